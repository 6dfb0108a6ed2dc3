package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/srcpkg/registry/internal/config"
	"github.com/srcpkg/registry/internal/db/models"
	"github.com/srcpkg/registry/internal/safego"
)

const lastUsedTimeout = 5 * time.Second

// ErrInvalidCredential is returned when a credential does not resolve to a user.
var ErrInvalidCredential = errors.New("invalid credential")

// UserStore loads users by id.
type UserStore interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// APIKeyStore looks up API keys by their plaintext prefix.
type APIKeyStore interface {
	GetAPIKeysByPrefix(ctx context.Context, keyPrefix string) ([]*models.APIKey, error)
	UpdateLastUsed(ctx context.Context, keyID string) error
}

// Resolver turns a presented credential into the user it belongs to.
type Resolver struct {
	users      UserStore
	keys       APIKeyStore
	jwtEnabled bool
	keyEnabled bool

	now    func() time.Time
	detach safego.Runner
}

// NewResolver creates a Resolver honouring the enabled credential kinds in cfg.
func NewResolver(users UserStore, keys APIKeyStore, cfg *config.AuthConfig) *Resolver {
	return &Resolver{
		users:      users,
		keys:       keys,
		jwtEnabled: cfg.JWT.Enabled,
		keyEnabled: cfg.APIKeys.Enabled,
		now:        time.Now,
		detach:     safego.Detached,
	}
}

// Resolve returns the user owning credential. The credential may carry a
// leading "Bearer ". JWTs are tried first since they need no database round
// trip; anything else is treated as an API key. Errors other than
// ErrInvalidCredential are store failures.
func (r *Resolver) Resolve(ctx context.Context, credential string) (*models.User, error) {
	token := credentialFromHeader(credential)
	if token == "" {
		return nil, ErrInvalidCredential
	}

	if r.jwtEnabled {
		if claims, err := ValidateJWT(token); err == nil {
			return r.loadUser(ctx, claims.UserID)
		}
	}

	if !r.keyEnabled {
		return nil, ErrInvalidCredential
	}

	candidates, err := r.keys.GetAPIKeysByPrefix(ctx, LookupPrefix(token))
	if err != nil {
		return nil, fmt.Errorf("failed to look up API key: %w", err)
	}

	for _, key := range candidates {
		if !ValidateAPIKey(token, key.KeyHash) {
			continue
		}
		if key.Expired(r.now()) {
			return nil, fmt.Errorf("%w: API key expired", ErrInvalidCredential)
		}

		keyID := key.ID
		r.detach(ctx, "api-key-last-used", lastUsedTimeout, func(ctx context.Context) {
			if err := r.keys.UpdateLastUsed(ctx, keyID); err != nil {
				slog.Warn("failed to update API key last-used time", "key_id", keyID, "error", err)
			}
		})

		return r.loadUser(ctx, key.UserID)
	}

	return nil, ErrInvalidCredential
}

func (r *Resolver) loadUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := r.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredential
	}
	return user, nil
}
