// Package capability wires the capability engine for the command entrypoint.
package capability

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/louisbranch/capability.space/internal/authlocal"
	"github.com/louisbranch/capability.space/internal/billing"
	"github.com/louisbranch/capability.space/internal/capability/entitlement"
	"github.com/louisbranch/capability.space/internal/capability/snapshot"
	"github.com/louisbranch/capability.space/internal/capability/storage/sqlite"
	"github.com/louisbranch/capability.space/internal/capability/store"
	"github.com/louisbranch/capability.space/internal/platform/config"
	"github.com/louisbranch/capability.space/internal/platform/otel"
	"github.com/louisbranch/capability.space/internal/platform/timeouts"
)

// Config holds capability command configuration.
type Config struct {
	DBPath          string        `env:"CAPABILITY_DB_PATH" envDefault:"capability.db"`
	BillingURL      string        `env:"CAPABILITY_BILLING_URL"`
	BillingToken    string        `env:"CAPABILITY_BILLING_TOKEN"`
	TokenIssuer     string        `env:"CAPABILITY_TOKEN_ISSUER" envDefault:"capability.space"`
	TokenSeed       string        `env:"CAPABILITY_TOKEN_SEED"`
	TokenTTL        time.Duration `env:"CAPABILITY_TOKEN_TTL" envDefault:"1h"`
	ProfileDeadline time.Duration `env:"CAPABILITY_PROFILE_DEADLINE" envDefault:"2s"`
}

// ParseConfig parses the environment and flags into a Config. Flags override
// environment values. A nil environ map reads the process environment.
func ParseConfig(fs *flag.FlagSet, args []string, environ map[string]string) (Config, error) {
	var cfg Config
	if err := config.ParseEnvFrom(&cfg, environ); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the local state database")
	fs.StringVar(&cfg.BillingURL, "billing-url", cfg.BillingURL, "Billing service base URL (empty disables subscription checks)")
	fs.DurationVar(&cfg.ProfileDeadline, "profile-deadline", cfg.ProfileDeadline, "Deadline for profile resolution before degrading")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the capability engine and blocks until the context is done.
func Run(ctx context.Context, cfg Config) error {
	shutdownTracing, err := otel.Setup(ctx, "capability")
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("shutdown tracing: %v", err)
		}
	}()

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	key, err := signingKey(cfg.TokenSeed)
	if err != nil {
		return err
	}
	backend := authlocal.NewBackend(db, authlocal.TokenConfig{
		Issuer: cfg.TokenIssuer,
		Key:    key,
		TTL:    cfg.TokenTTL,
	})

	var billingClient entitlement.BillingClient
	if cfg.BillingURL != "" {
		// A configured static token wins; otherwise requests carry the
		// current session token.
		token := func(context.Context) (string, error) {
			return backend.CurrentToken(), nil
		}
		if cfg.BillingToken != "" {
			static := cfg.BillingToken
			token = func(context.Context) (string, error) { return static, nil }
		}
		billingClient = billing.NewClient(cfg.BillingURL, token, nil)
	}

	engine, err := store.New(store.Config{
		Backend:      backend,
		Profiles:     db,
		Entitlements: entitlement.NewResolver(billingClient),
		Cache:        snapshot.NewCache(db),
	})
	if err != nil {
		return fmt.Errorf("build capability store: %w", err)
	}
	engine.SetProfileDeadline(cfg.ProfileDeadline)

	unsubscribe := engine.Subscribe(func(v store.View) {
		user := "-"
		if v.User != nil {
			user = v.User.UserID
		}
		log.Printf("view: state=%s user=%s premium=%t admin=%t loading=%t",
			v.State, user, v.Premium, v.Admin, v.Loading)
	})
	defer unsubscribe()

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start capability store: %w", err)
	}
	log.Printf("capability engine running, state database at %s", cfg.DBPath)

	<-ctx.Done()

	closed := make(chan struct{})
	go func() {
		engine.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(timeouts.Shutdown):
		log.Print("shutdown deadline exceeded, abandoning pending cycles")
	}
	return nil
}

// signingKey decodes the configured ed25519 seed. An empty seed gets an
// ephemeral key; sessions then do not survive a restart.
func signingKey(seed string) (ed25519.PrivateKey, error) {
	if seed == "" {
		log.Print("no token seed configured, minting ephemeral signing key")
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		return key, nil
	}

	raw, err := base64.StdEncoding.DecodeString(seed)
	if err != nil {
		return nil, fmt.Errorf("decode token seed: %w", err)
	}
	if len(raw) != ed25519.SeedSize {
		return nil, fmt.Errorf("token seed must be %d bytes, got %d", ed25519.SeedSize, len(raw))
	}
	return ed25519.NewKeyFromSeed(raw), nil
}
