package store

import (
	"testing"

	"github.com/heraldapp/herald/internal/database"
)

func setupPushTestDB(t *testing.T) *PushStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPushStore(db)
}

func TestPushUpsert(t *testing.T) {
	ps := setupPushTestDB(t)

	sub, err := ps.Upsert("Alice@Example.com", "https://push.example/ep1", "p256-a", "auth-a")
	if err != nil {
		t.Fatalf("upsert subscription: %v", err)
	}
	if sub.Email != "alice@example.com" {
		t.Errorf("email = %q, want normalized identity", sub.Email)
	}

	// Re-registering the same endpoint refreshes keys, no duplicate row.
	sub, err = ps.Upsert("alice@example.com", "https://push.example/ep1", "p256-b", "auth-b")
	if err != nil {
		t.Fatalf("re-upsert subscription: %v", err)
	}
	if sub.P256dhKey != "p256-b" {
		t.Errorf("p256dh = %q, want refreshed key", sub.P256dhKey)
	}

	subs, err := ps.ListByEmail("alice@example.com")
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if len(subs) != 1 {
		t.Errorf("subscriptions = %d, want 1", len(subs))
	}
}

func TestPushEmailsWithSubscriptions(t *testing.T) {
	ps := setupPushTestDB(t)

	if _, err := ps.Upsert("alice@example.com", "https://push.example/ep1", "k", "a"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := ps.Upsert("alice@example.com", "https://push.example/ep2", "k", "a"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	emails, err := ps.EmailsWithSubscriptions()
	if err != nil {
		t.Fatalf("emails with subscriptions: %v", err)
	}
	if !emails["alice@example.com"] {
		t.Error("expected alice in subscribed set")
	}
	if emails["bob@example.com"] {
		t.Error("bob should not be in subscribed set")
	}
}

func TestPushDeleteByEndpoint(t *testing.T) {
	ps := setupPushTestDB(t)

	if _, err := ps.Upsert("alice@example.com", "https://push.example/ep1", "k", "a"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := ps.DeleteByEndpoint("https://push.example/ep1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	sub, err := ps.GetByEndpoint("https://push.example/ep1")
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if sub != nil {
		t.Errorf("expected nil after delete, got %+v", sub)
	}
}
