// Package accounts resolves user profiles and subscription tiers.
package accounts

import (
	"context"
	"fmt"
	"strings"

	"gas/internal/config"
	"gas/internal/services"
)

// Tier is a subscription level.
type Tier string

const (
	TierFree    Tier = "free_user"
	TierPremium Tier = "premium_user"
)

// ParseTier accepts "free", "premium" or the stored tier names.
func ParseTier(value string) (Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "free", string(TierFree):
		return TierFree, true
	case "premium", string(TierPremium):
		return TierPremium, true
	}
	return "", false
}

// ErrUserNotFound matches services.ErrNotFound.
var ErrUserNotFound = fmt.Errorf("user %w", services.ErrNotFound)

// Profile is what the pipeline knows about a job owner.
type Profile struct {
	UserID      string
	Name        string
	Email       string
	Institution string
	Tier        Tier
}

// Premium reports whether results must stay in hot storage.
func (p Profile) Premium() bool {
	return p.Tier == TierPremium
}

// Directory looks up profiles.
type Directory interface {
	Profile(ctx context.Context, userID string) (Profile, error)
}

// Entitlements changes a user's tier.
type Entitlements interface {
	// SetTier reports whether the stored tier changed.
	SetTier(ctx context.Context, userID string, tier Tier) (bool, error)
}

// Store is a profile backend that supports both lookups and tier changes.
type Store interface {
	Directory
	Entitlements
	Upsert(ctx context.Context, profile Profile) error
	Close() error
}

// Open connects to the backend selected by accounts.backend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Accounts.Backend)) {
	case config.AccountsSQLite, "":
		return OpenSQLite(ctx, cfg.Accounts.SQLitePath)
	case config.AccountsPostgres:
		return OpenPostgres(ctx, cfg.Accounts.DSN)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "accounts", "open", "unsupported backend "+cfg.Accounts.Backend, nil)
	}
}

func validateProfile(p Profile) error {
	if strings.TrimSpace(p.UserID) == "" {
		return services.Wrap(services.ErrValidation, "accounts", "upsert", "user id is required", nil)
	}
	if _, ok := ParseTier(string(p.Tier)); !ok {
		return services.Wrap(services.ErrValidation, "accounts", "upsert", fmt.Sprintf("unknown tier %q", p.Tier), nil)
	}
	return nil
}
