package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rivermead/fedauth/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	t.Cleanup(s.Stop)
	return s
}

func TestProviderSettings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t.Run("missing settings", func(t *testing.T) {
		if _, err := s.GetProviderSettings(ctx, "org-1"); !errors.Is(err, storage.ErrProviderNotFound) {
			t.Errorf("GetProviderSettings() error = %v, want ErrProviderNotFound", err)
		}
	})

	t.Run("save and get", func(t *testing.T) {
		settings := &storage.ProviderSettings{
			OrgID:     "org-1",
			IssuerURL: "https://idp.example.com",
			ClientID:  "client-1",
			Enabled:   true,
		}
		if err := s.SaveProviderSettings(ctx, settings); err != nil {
			t.Fatalf("SaveProviderSettings() error = %v", err)
		}

		got, err := s.GetProviderSettings(ctx, "org-1")
		if err != nil {
			t.Fatalf("GetProviderSettings() error = %v", err)
		}
		if got.IssuerURL != settings.IssuerURL || got.ClientID != settings.ClientID {
			t.Errorf("settings = %+v", got)
		}
		if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
			t.Error("timestamps not stamped")
		}
	})

	t.Run("save replaces and preserves created at", func(t *testing.T) {
		first, _ := s.GetProviderSettings(ctx, "org-1")

		updated := *first
		updated.ClientID = "client-2"
		if err := s.SaveProviderSettings(ctx, &updated); err != nil {
			t.Fatalf("SaveProviderSettings() error = %v", err)
		}

		got, _ := s.GetProviderSettings(ctx, "org-1")
		if got.ClientID != "client-2" {
			t.Errorf("client ID = %s, want client-2", got.ClientID)
		}
		if !got.CreatedAt.Equal(first.CreatedAt) {
			t.Error("CreatedAt changed on update")
		}
	})

	t.Run("returned copy does not alias the stored record", func(t *testing.T) {
		got, _ := s.GetProviderSettings(ctx, "org-1")
		got.ClientID = "mutated"

		again, _ := s.GetProviderSettings(ctx, "org-1")
		if again.ClientID == "mutated" {
			t.Error("mutation of a returned copy reached the store")
		}
	})

	t.Run("maps and slices are cloned both ways", func(t *testing.T) {
		settings := &storage.ProviderSettings{
			OrgID:            "org-deep",
			IssuerURL:        "https://idp.example.com",
			ClientID:         "client-1",
			Scopes:           []string{"openid", "email"},
			AttributeMapping: map[string]string{"email": "email"},
		}
		if err := s.SaveProviderSettings(ctx, settings); err != nil {
			t.Fatalf("SaveProviderSettings() error = %v", err)
		}

		// Mutating the input after the save must not reach the store.
		settings.Scopes[0] = "mutated"
		settings.AttributeMapping["email"] = "mutated"

		got, _ := s.GetProviderSettings(ctx, "org-deep")
		if got.Scopes[0] != "openid" || got.AttributeMapping["email"] != "email" {
			t.Error("mutation of the saved input reached the store")
		}

		// Mutating a returned copy must not reach the store either.
		got.Scopes[0] = "mutated"
		got.AttributeMapping["email"] = "mutated"

		again, _ := s.GetProviderSettings(ctx, "org-deep")
		if again.Scopes[0] != "openid" || again.AttributeMapping["email"] != "email" {
			t.Error("mutation of a returned map or slice reached the store")
		}
	})

	t.Run("invalid settings rejected", func(t *testing.T) {
		if err := s.SaveProviderSettings(ctx, &storage.ProviderSettings{}); err == nil {
			t.Error("settings without an org ID accepted")
		}
	})
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	user := &storage.User{
		ID:    "user-1",
		OrgID: "org-1",
		Email: "user@example.com",
		Name:  "Example User",
		Role:  "member",
	}

	t.Run("find missing user", func(t *testing.T) {
		if _, err := s.FindUserByEmail(ctx, "org-1", "user@example.com"); !errors.Is(err, storage.ErrUserNotFound) {
			t.Errorf("FindUserByEmail() error = %v, want ErrUserNotFound", err)
		}
	})

	t.Run("create and find", func(t *testing.T) {
		if err := s.CreateUser(ctx, user); err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}

		got, err := s.FindUserByEmail(ctx, "org-1", "user@example.com")
		if err != nil {
			t.Fatalf("FindUserByEmail() error = %v", err)
		}
		if got.ID != "user-1" || got.Role != "member" {
			t.Errorf("user = %+v", got)
		}
	})

	t.Run("duplicate create rejected", func(t *testing.T) {
		if err := s.CreateUser(ctx, user); err == nil {
			t.Error("duplicate CreateUser() succeeded")
		}
	})

	t.Run("emails are scoped per organization", func(t *testing.T) {
		other := *user
		other.ID = "user-2"
		other.OrgID = "org-2"
		if err := s.CreateUser(ctx, &other); err != nil {
			t.Fatalf("CreateUser() in second org error = %v", err)
		}

		got, err := s.FindUserByEmail(ctx, "org-2", "user@example.com")
		if err != nil {
			t.Fatalf("FindUserByEmail() error = %v", err)
		}
		if got.ID != "user-2" {
			t.Errorf("user ID = %s, want user-2", got.ID)
		}
	})

	t.Run("update", func(t *testing.T) {
		updated := *user
		updated.Name = "Renamed User"
		if err := s.UpdateUser(ctx, &updated); err != nil {
			t.Fatalf("UpdateUser() error = %v", err)
		}

		got, _ := s.FindUserByEmail(ctx, "org-1", "user@example.com")
		if got.Name != "Renamed User" {
			t.Errorf("name = %s, want Renamed User", got.Name)
		}
	})

	t.Run("update missing user", func(t *testing.T) {
		missing := &storage.User{OrgID: "org-9", Email: "nobody@example.com"}
		if err := s.UpdateUser(ctx, missing); !errors.Is(err, storage.ErrUserNotFound) {
			t.Errorf("UpdateUser() error = %v, want ErrUserNotFound", err)
		}
	})

	t.Run("attributes map is cloned", func(t *testing.T) {
		attributed := *user
		attributed.Attributes = map[string]string{"department": "widgets"}
		if err := s.UpdateUser(ctx, &attributed); err != nil {
			t.Fatalf("UpdateUser() error = %v", err)
		}

		got, _ := s.FindUserByEmail(ctx, "org-1", "user@example.com")
		got.Attributes["department"] = "mutated"

		again, _ := s.FindUserByEmail(ctx, "org-1", "user@example.com")
		if again.Attributes["department"] != "widgets" {
			t.Error("mutation of a returned attributes map reached the store")
		}
	})
}

func TestSessions(t *testing.T) {
	ctx := context.Background()

	newSession := func(id, state string) *storage.Session {
		return &storage.Session{
			ID:        id,
			OrgID:     "org-1",
			State:     state,
			Status:    storage.FlowInitiated,
			CreatedAt: time.Now(),
			ExpiresAt: time.Now().Add(10 * time.Minute),
		}
	}

	t.Run("save, get, and lookup by state", func(t *testing.T) {
		s := newTestStore(t)
		if err := s.SaveSession(ctx, newSession("sess-1", "state-1")); err != nil {
			t.Fatalf("SaveSession() error = %v", err)
		}

		got, err := s.GetSession(ctx, "sess-1")
		if err != nil {
			t.Fatalf("GetSession() error = %v", err)
		}
		if got.Status != storage.FlowInitiated {
			t.Errorf("status = %s", got.Status)
		}

		byState, err := s.GetSessionByState(ctx, "state-1")
		if err != nil {
			t.Fatalf("GetSessionByState() error = %v", err)
		}
		if byState.ID != "sess-1" {
			t.Errorf("session ID = %s, want sess-1", byState.ID)
		}

		if _, err := s.GetSessionByState(ctx, "unknown-state"); !errors.Is(err, storage.ErrSessionNotFound) {
			t.Errorf("GetSessionByState(unknown) error = %v, want ErrSessionNotFound", err)
		}
	})

	t.Run("expired session is absent", func(t *testing.T) {
		s := newTestStore(t)
		current := time.Now()
		s.now = func() time.Time { return current }

		session := newSession("sess-1", "state-1")
		session.ExpiresAt = current.Add(time.Minute)
		s.SaveSession(ctx, session)

		current = current.Add(2 * time.Minute)
		if _, err := s.GetSession(ctx, "sess-1"); !errors.Is(err, storage.ErrSessionNotFound) {
			t.Errorf("GetSession(expired) error = %v, want ErrSessionNotFound", err)
		}
		if _, err := s.GetSessionByState(ctx, "state-1"); !errors.Is(err, storage.ErrSessionNotFound) {
			t.Errorf("GetSessionByState(expired) error = %v, want ErrSessionNotFound", err)
		}
	})

	t.Run("update", func(t *testing.T) {
		s := newTestStore(t)
		s.SaveSession(ctx, newSession("sess-1", "state-1"))

		session, _ := s.GetSession(ctx, "sess-1")
		session.Status = storage.FlowSessionEstablished
		session.UserID = "user-1"
		if err := s.UpdateSession(ctx, session); err != nil {
			t.Fatalf("UpdateSession() error = %v", err)
		}

		got, _ := s.GetSession(ctx, "sess-1")
		if got.Status != storage.FlowSessionEstablished || got.UserID != "user-1" {
			t.Errorf("session = %+v", got)
		}
	})

	t.Run("update missing session", func(t *testing.T) {
		s := newTestStore(t)
		if err := s.UpdateSession(ctx, newSession("ghost", "state-x")); !errors.Is(err, storage.ErrSessionNotFound) {
			t.Errorf("UpdateSession() error = %v, want ErrSessionNotFound", err)
		}
	})

	t.Run("granted scopes are cloned", func(t *testing.T) {
		s := newTestStore(t)
		session := newSession("sess-1", "state-1")
		session.GrantedScopes = []string{"openid", "email"}
		s.SaveSession(ctx, session)

		got, _ := s.GetSession(ctx, "sess-1")
		got.GrantedScopes[0] = "mutated"

		again, _ := s.GetSession(ctx, "sess-1")
		if again.GrantedScopes[0] != "openid" {
			t.Error("mutation of a returned scope slice reached the store")
		}
	})

	t.Run("delete removes session, state index, and nonce", func(t *testing.T) {
		s := newTestStore(t)
		s.SaveSession(ctx, newSession("sess-1", "state-1"))
		s.StoreNonce(ctx, "sess-1", "nonce-1", time.Minute)

		if err := s.DeleteSession(ctx, "sess-1"); err != nil {
			t.Fatalf("DeleteSession() error = %v", err)
		}
		if _, err := s.GetSession(ctx, "sess-1"); !errors.Is(err, storage.ErrSessionNotFound) {
			t.Error("session survives deletion")
		}
		if _, err := s.GetSessionByState(ctx, "state-1"); !errors.Is(err, storage.ErrSessionNotFound) {
			t.Error("state index survives deletion")
		}
		if _, err := s.ConsumeNonce(ctx, "sess-1"); !errors.Is(err, storage.ErrNonceNotFound) {
			t.Error("nonce survives deletion")
		}

		// Deleting again is not an error.
		if err := s.DeleteSession(ctx, "sess-1"); err != nil {
			t.Errorf("second DeleteSession() error = %v", err)
		}
	})
}

func TestNonces(t *testing.T) {
	ctx := context.Background()

	t.Run("consume once", func(t *testing.T) {
		s := newTestStore(t)
		s.StoreNonce(ctx, "sess-1", "nonce-1", time.Minute)

		got, err := s.ConsumeNonce(ctx, "sess-1")
		if err != nil {
			t.Fatalf("ConsumeNonce() error = %v", err)
		}
		if got != "nonce-1" {
			t.Errorf("nonce = %s, want nonce-1", got)
		}

		if _, err := s.ConsumeNonce(ctx, "sess-1"); !errors.Is(err, storage.ErrNonceNotFound) {
			t.Errorf("second ConsumeNonce() error = %v, want ErrNonceNotFound", err)
		}
	})

	t.Run("expired nonce", func(t *testing.T) {
		s := newTestStore(t)
		current := time.Now()
		s.now = func() time.Time { return current }

		s.StoreNonce(ctx, "sess-1", "nonce-1", time.Minute)
		current = current.Add(2 * time.Minute)

		if _, err := s.ConsumeNonce(ctx, "sess-1"); !errors.Is(err, storage.ErrNonceNotFound) {
			t.Errorf("ConsumeNonce(expired) error = %v, want ErrNonceNotFound", err)
		}
	})
}

func TestCleanupExpired(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	current := time.Now()
	s.now = func() time.Time { return current }

	s.SaveSession(ctx, &storage.Session{
		ID:        "expiring",
		State:     "state-1",
		ExpiresAt: current.Add(time.Minute),
	})
	s.SaveSession(ctx, &storage.Session{
		ID:        "living",
		State:     "state-2",
		ExpiresAt: current.Add(time.Hour),
	})
	s.StoreNonce(ctx, "orphan", "nonce-1", time.Minute)

	current = current.Add(10 * time.Minute)
	s.cleanupExpired()

	if _, ok := s.sessions["expiring"]; ok {
		t.Error("expired session survived cleanup")
	}
	if _, ok := s.byState["state-1"]; ok {
		t.Error("expired state index survived cleanup")
	}
	if _, ok := s.nonces["orphan"]; ok {
		t.Error("expired nonce survived cleanup")
	}
	if _, ok := s.sessions["living"]; !ok {
		t.Error("live session removed by cleanup")
	}
}
