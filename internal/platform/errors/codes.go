// Package errors provides structured error handling for the capability engine.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Auth errors
	CodeAuthInvalidCredentials Code = "AUTH_INVALID_CREDENTIALS"
	CodeAuthEmailTaken         Code = "AUTH_EMAIL_TAKEN"
	CodeAuthNoSession          Code = "AUTH_NO_SESSION"
	CodeAuthTokenInvalid       Code = "AUTH_TOKEN_INVALID"

	// Profile errors
	CodeProfileEmptyUserID Code = "PROFILE_EMPTY_USER_ID"
	CodeProfileEmptyEmail  Code = "PROFILE_EMPTY_EMAIL"

	// Resolution errors
	CodeTimeout            Code = "TIMEOUT"
	CodeBackendUnavailable Code = "BACKEND_UNAVAILABLE"

	// Subscription errors
	CodeSubscriptionUnavailable Code = "SUBSCRIPTION_UNAVAILABLE"
	CodeCheckoutFailed          Code = "CHECKOUT_FAILED"

	// Storage errors
	CodeNotFound     Code = "NOT_FOUND"
	CodeDuplicateKey Code = "DUPLICATE_KEY"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeProfileEmptyUserID,
		CodeProfileEmptyEmail:
		return codes.InvalidArgument

	// Unauthenticated - credential or token failures
	case CodeAuthInvalidCredentials,
		CodeAuthTokenInvalid:
		return codes.Unauthenticated

	// FailedPrecondition - state doesn't allow operation
	case CodeAuthNoSession:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return codes.NotFound

	// AlreadyExists - unique resource constraint
	case CodeAuthEmailTaken,
		CodeDuplicateKey:
		return codes.AlreadyExists

	case CodeTimeout:
		return codes.DeadlineExceeded

	case CodeBackendUnavailable,
		CodeSubscriptionUnavailable,
		CodeCheckoutFailed:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}
