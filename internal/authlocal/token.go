package authlocal

import (
	"crypto/ed25519"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/louisbranch/capability.space/internal/capability/session"
	apperrors "github.com/louisbranch/capability.space/internal/platform/errors"
)

// ErrTokenInvalid indicates a session token that failed verification.
var ErrTokenInvalid = apperrors.New(apperrors.CodeAuthTokenInvalid, "session token is invalid")

// TokenConfig defines how session tokens are minted and verified.
type TokenConfig struct {
	Issuer string
	Key    ed25519.PrivateKey
	TTL    time.Duration
	Now    func() time.Time
}

// sessionClaims is the internal claims type used for JWT parsing.
type sessionClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

func (c TokenConfig) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// MintSessionToken signs a session JWT for the given identity.
func MintSessionToken(cfg TokenConfig, s session.Session) (string, error) {
	if strings.TrimSpace(cfg.Issuer) == "" {
		return "", fmt.Errorf("token issuer is required")
	}
	if len(cfg.Key) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("token signing key is required")
	}
	if strings.TrimSpace(s.UserID) == "" {
		return "", fmt.Errorf("session user id is required")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	issuedAt := cfg.now().UTC()

	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
		Email: s.Email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(cfg.Key)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// ParseSessionToken verifies a session JWT and restores the identity it
// carries. The issued-at claim becomes Session.IssuedAt.
func ParseSessionToken(cfg TokenConfig, raw string) (session.Session, error) {
	if len(cfg.Key) != ed25519.PrivateKeySize {
		return session.Session{}, fmt.Errorf("token signing key is required")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(cfg.now),
	)

	var claims sessionClaims
	_, err := parser.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		return cfg.Key.Public(), nil
	})
	if err != nil {
		return session.Session{}, apperrors.Wrap(apperrors.CodeAuthTokenInvalid, "parse session token", err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return session.Session{}, ErrTokenInvalid
	}

	issuedAt := time.Time{}
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time.UTC()
	}
	return session.Session{
		UserID:   claims.Subject,
		Email:    claims.Email,
		IssuedAt: issuedAt,
	}, nil
}
