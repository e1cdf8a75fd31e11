// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rivermead/fedauth/storage"
)

// nonceRecord holds a stored nonce with its expiry.
type nonceRecord struct {
	value     string
	expiresAt time.Time
}

// Store is an in-memory implementation of ProviderConfigStore, UserStore,
// and SessionStore. Expired sessions and nonces are removed lazily on read
// and swept periodically by a background cleanup loop.
type Store struct {
	mu sync.RWMutex

	providers map[string]*storage.ProviderSettings // org ID -> settings
	users     map[string]*storage.User             // org ID + email -> user
	sessions  map[string]*storage.Session          // session ID -> session
	byState   map[string]string                    // state -> session ID
	nonces    map[string]nonceRecord               // session ID -> nonce

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
	now             func() time.Time
}

// Compile-time interface checks.
var (
	_ storage.ProviderConfigStore = (*Store)(nil)
	_ storage.UserStore           = (*Store)(nil)
	_ storage.SessionStore        = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval
// (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. If cleanupInterval is 0 or negative, the default of 1 minute is
// used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		providers:       make(map[string]*storage.ProviderSettings),
		users:           make(map[string]*storage.User),
		sessions:        make(map[string]*storage.Session),
		byState:         make(map[string]string),
		nonces:          make(map[string]nonceRecord),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
		now:             time.Now,
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
}

// Stop terminates the background cleanup goroutine.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// ==================== ProviderConfigStore ====================

// GetProviderSettings retrieves settings for an organization.
func (s *Store) GetProviderSettings(_ context.Context, orgID string) (*storage.ProviderSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, ok := s.providers[orgID]
	if !ok {
		return nil, storage.ErrProviderNotFound
	}
	return copySettings(settings), nil
}

// SaveProviderSettings creates or replaces settings for an organization.
func (s *Store) SaveProviderSettings(_ context.Context, settings *storage.ProviderSettings) error {
	if settings == nil || settings.OrgID == "" {
		return fmt.Errorf("memory: invalid provider settings")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copySettings(settings)
	cp.UpdatedAt = s.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.UpdatedAt
	}
	s.providers[settings.OrgID] = cp
	return nil
}

// ==================== UserStore ====================

func userKey(orgID, email string) string {
	return orgID + "\x00" + email
}

// FindUserByEmail looks up a user within an organization.
func (s *Store) FindUserByEmail(_ context.Context, orgID, email string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userKey(orgID, email)]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return copyUser(user), nil
}

// CreateUser persists a newly provisioned user.
func (s *Store) CreateUser(_ context.Context, user *storage.User) error {
	if user == nil || user.OrgID == "" || user.Email == "" {
		return fmt.Errorf("memory: invalid user")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := userKey(user.OrgID, user.Email)
	if _, exists := s.users[key]; exists {
		return fmt.Errorf("memory: user %q already exists", user.Email)
	}

	cp := copyUser(user)
	cp.CreatedAt = s.now()
	cp.UpdatedAt = cp.CreatedAt
	s.users[key] = cp
	return nil
}

// UpdateUser overwrites an existing user.
func (s *Store) UpdateUser(_ context.Context, user *storage.User) error {
	if user == nil || user.OrgID == "" || user.Email == "" {
		return fmt.Errorf("memory: invalid user")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := userKey(user.OrgID, user.Email)
	if _, exists := s.users[key]; !exists {
		return storage.ErrUserNotFound
	}

	cp := copyUser(user)
	cp.UpdatedAt = s.now()
	s.users[key] = cp
	return nil
}

// ==================== SessionStore ====================

// SaveSession persists a new session.
func (s *Store) SaveSession(_ context.Context, session *storage.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("memory: invalid session")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = copySession(session)
	if session.State != "" {
		s.byState[session.State] = session.ID
	}
	return nil
}

// GetSession retrieves a session by ID. Expired sessions are treated as
// absent.
func (s *Store) GetSession(_ context.Context, id string) (*storage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok || session.Expired(s.now()) {
		return nil, storage.ErrSessionNotFound
	}
	return copySession(session), nil
}

// GetSessionByState retrieves a session by its state parameter.
func (s *Store) GetSessionByState(_ context.Context, state string) (*storage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byState[state]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	session, ok := s.sessions[id]
	if !ok || session.Expired(s.now()) {
		return nil, storage.ErrSessionNotFound
	}
	return copySession(session), nil
}

// UpdateSession overwrites an existing session.
func (s *Store) UpdateSession(_ context.Context, session *storage.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("memory: invalid session")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; !exists {
		return storage.ErrSessionNotFound
	}
	s.sessions[session.ID] = copySession(session)
	return nil
}

// DeleteSession removes a session, its state index entry, and any stored
// nonce. Deleting a missing session is not an error.
func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[id]; ok {
		delete(s.byState, session.State)
		delete(s.sessions, id)
	}
	delete(s.nonces, id)
	return nil
}

// StoreNonce writes a nonce bound to a session with the given TTL.
func (s *Store) StoreNonce(_ context.Context, sessionID, nonce string, ttl time.Duration) error {
	if sessionID == "" || nonce == "" {
		return fmt.Errorf("memory: invalid nonce")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nonces[sessionID] = nonceRecord{
		value:     nonce,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// ConsumeNonce atomically reads and deletes the nonce for a session.
func (s *Store) ConsumeNonce(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.nonces[sessionID]
	if !ok {
		return "", storage.ErrNonceNotFound
	}
	delete(s.nonces, sessionID)

	if s.now().After(rec.expiresAt) {
		return "", storage.ErrNonceNotFound
	}
	return rec.value, nil
}

// ==================== Cleanup ====================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

// ==================== Copies ====================
//
// The store keeps and hands out copies so a caller can never mutate stored
// state through a retained pointer. Maps and slices are cloned along with
// the struct.

func copySettings(settings *storage.ProviderSettings) *storage.ProviderSettings {
	cp := *settings
	cp.Scopes = slices.Clone(settings.Scopes)
	cp.AttributeMapping = maps.Clone(settings.AttributeMapping)
	if settings.ManualEndpoints != nil {
		ep := *settings.ManualEndpoints
		ep.Warnings = slices.Clone(settings.ManualEndpoints.Warnings)
		cp.ManualEndpoints = &ep
	}
	return &cp
}

func copyUser(user *storage.User) *storage.User {
	cp := *user
	cp.Attributes = maps.Clone(user.Attributes)
	return &cp
}

func copySession(session *storage.Session) *storage.Session {
	cp := *session
	cp.GrantedScopes = slices.Clone(session.GrantedScopes)
	return &cp
}

// cleanupExpired removes expired sessions and nonces.
func (s *Store) cleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0

	for id, session := range s.sessions {
		if session.Expired(now) {
			delete(s.byState, session.State)
			delete(s.sessions, id)
			delete(s.nonces, id)
			removed++
		}
	}
	for id, rec := range s.nonces {
		if now.After(rec.expiresAt) {
			delete(s.nonces, id)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("Session store cleanup completed",
			"removed", removed,
			"remaining_sessions", len(s.sessions))
	}
}
