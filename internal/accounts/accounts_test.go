package accounts_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"

	"gas/internal/accounts"
	"gas/internal/services"
	"gas/internal/testsupport"
)

func runDirectoryContract(t *testing.T, store accounts.Store) {
	t.Helper()
	ctx := context.Background()
	userID := "U-" + uuid.NewString()

	if _, err := store.Profile(ctx, userID); !errors.Is(err, accounts.ErrUserNotFound) || !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
	if err := store.Upsert(ctx, accounts.Profile{UserID: userID, Name: "Ada", Email: "ada@example.org", Tier: accounts.TierFree}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	profile, err := store.Profile(ctx, userID)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if profile.Premium() || profile.Email != "ada@example.org" {
		t.Fatalf("unexpected profile %+v", profile)
	}

	changed, err := store.SetTier(ctx, userID, accounts.TierPremium)
	if err != nil || !changed {
		t.Fatalf("SetTier premium: %v %v", changed, err)
	}
	changed, err = store.SetTier(ctx, userID, accounts.TierPremium)
	if err != nil || changed {
		t.Fatalf("second SetTier should not change, got %v %v", changed, err)
	}
	if profile, _ := store.Profile(ctx, userID); !profile.Premium() {
		t.Fatalf("expected premium after upgrade, got %+v", profile)
	}
	if _, err := store.SetTier(ctx, "missing-"+userID, accounts.TierPremium); !errors.Is(err, accounts.ErrUserNotFound) {
		t.Fatalf("expected not found for missing user, got %v", err)
	}
	if err := store.Upsert(ctx, accounts.Profile{UserID: userID, Tier: "gold"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown tier, got %v", err)
	}
}

func TestSQLiteDirectory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := accounts.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	runDirectoryContract(t, store)
}

func TestStaticDirectory(t *testing.T) {
	runDirectoryContract(t, accounts.NewStatic())
}

// TestPostgresDirectory runs against the database named by GAS_TEST_POSTGRES_DSN.
func TestPostgresDirectory(t *testing.T) {
	dsn := os.Getenv("GAS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GAS_TEST_POSTGRES_DSN not set")
	}
	store, err := accounts.OpenPostgres(context.Background(), dsn)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	runDirectoryContract(t, store)
}

func TestParseTier(t *testing.T) {
	cases := map[string]accounts.Tier{"free": accounts.TierFree, "PREMIUM": accounts.TierPremium, "premium_user": accounts.TierPremium}
	for input, want := range cases {
		if got, ok := accounts.ParseTier(input); !ok || got != want {
			t.Fatalf("ParseTier(%q) = %q %v", input, got, ok)
		}
	}
	if _, ok := accounts.ParseTier("gold"); ok {
		t.Fatal("expected unknown tier to fail")
	}
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	if _, err := accounts.OpenPostgres(context.Background(), " "); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
