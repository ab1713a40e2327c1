package auth_test

import (
	"context"
	"testing"

	"github.com/gleitzeit/gleitzeit/pkg/provider/auth"
)

// TestNewCredentialStoreDoesNotPanic just verifies construction probes the
// backend safely; Available() may be true or false depending on the host.
func TestNewCredentialStoreDoesNotPanic(t *testing.T) {
	store := auth.NewCredentialStore()
	_ = store.Available()
}

// TestCredentialStoreRoundTrip exercises Set/Get/Delete against a real OS
// keychain. Skipped wherever no backend is available (headless CI, this
// sandbox) since go-keyring has no in-memory mode to fall back to.
func TestCredentialStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	store := auth.NewCredentialStore()
	if !store.Available() {
		t.Skip("no OS keychain backend available")
	}

	ctx := context.Background()
	const providerID = "test/gleitzeit/integration_test"

	_ = store.Delete(ctx, providerID)
	defer func() { _ = store.Delete(ctx, providerID) }()

	if err := store.Set(ctx, providerID, "sk-test-123"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.Get(ctx, providerID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "sk-test-123" {
		t.Fatalf("Get() = %q, want %q", got, "sk-test-123")
	}

	if err := store.Delete(ctx, providerID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := store.Get(ctx, providerID); err != auth.ErrCredentialNotFound {
		t.Fatalf("Get() after delete error = %v, want ErrCredentialNotFound", err)
	}
}
