package auth

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/openmusicplayer/authgate/internal/logger"
	"github.com/openmusicplayer/authgate/internal/metrics"
	"github.com/openmusicplayer/authgate/internal/models"
	"github.com/openmusicplayer/authgate/internal/password"
	"github.com/openmusicplayer/authgate/internal/store"
	"github.com/openmusicplayer/authgate/internal/token"
)

var errStoreDown = errors.New("store unavailable")

// fakeStore is an in-memory credential store that counts calls.
type fakeStore struct {
	mu     sync.Mutex
	users  map[string]*models.User
	resets []models.PasswordResetToken
	calls  int
	// failUpdate makes UpdatePassword fail.
	failUpdate bool
	// failAll makes every call fail.
	failAll bool
	// missPurge makes DeleteResetTokensForUser skip every record, the way a
	// backend loses a token indexed after the purge read its index.
	missPurge bool
}

func newFakeStore(users ...*models.User) *fakeStore {
	s := &fakeStore{users: make(map[string]*models.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeStore) enter() error {
	s.mu.Lock()
	s.calls++
	if s.failAll {
		return errStoreDown
	}
	return nil
}

func (s *fakeStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeStore) CreateUser(_ context.Context, u *models.User) error {
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return store.ErrEmailExists
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *fakeStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return nil, err
	}
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrUserNotFound
}

func (s *fakeStore) GetUserByID(_ context.Context, id string) (*models.User, error) {
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *fakeStore) UpdatePassword(_ context.Context, id, pw string) error {
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	if s.failUpdate {
		return errStoreDown
	}
	u, ok := s.users[id]
	if !ok {
		return store.ErrUserNotFound
	}
	u.Password = pw
	return nil
}

func (s *fakeStore) CreateResetToken(_ context.Context, t *models.PasswordResetToken) error {
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	s.resets = append(s.resets, *t)
	return nil
}

func (s *fakeStore) GetResetToken(_ context.Context, tok string) (*models.PasswordResetToken, error) {
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return nil, err
	}
	for _, r := range s.resets {
		if r.Token == tok {
			cp := r
			return &cp, nil
		}
	}
	return nil, store.ErrResetTokenNotFound
}

func (s *fakeStore) DeleteResetToken(_ context.Context, token string) error {
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	for i, r := range s.resets {
		if r.Token == token {
			s.resets = append(s.resets[:i], s.resets[i+1:]...)
			return nil
		}
	}
	return store.ErrResetTokenNotFound
}

func (s *fakeStore) DeleteResetTokensForUser(_ context.Context, userID string) (int64, error) {
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return 0, err
	}
	if s.missPurge {
		return 0, nil
	}
	kept := s.resets[:0]
	var n int64
	for _, r := range s.resets {
		if r.UserID == userID {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.resets = kept
	return n, nil
}

func (s *fakeStore) resetCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.resets {
		if r.UserID == userID {
			n++
		}
	}
	return n
}

func (s *fakeStore) password(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id].Password
}

// fixture bundles the services under test around one fake store.
type fixture struct {
	store    *fakeStore
	codec    *token.Codec
	hasher   *password.Hasher
	metrics  *metrics.Metrics
	sessions *Service
	recovery *Recovery
	now      time.Time
}

func newFixture(t *testing.T, users ...*models.User) *fixture {
	t.Helper()

	codec, err := token.NewCodec(token.Config{Secret: []byte("test-secret")})
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		store:   newFakeStore(users...),
		hasher:  password.NewHasher(bcrypt.MinCost),
		metrics: metrics.New(),
		now:     time.Now(),
	}
	f.codec = codec.WithClock(func() time.Time { return f.now })

	log := logger.New(io.Discard, logger.LevelDebug, "test")
	f.sessions = NewService(f.store, f.hasher, f.codec, log, f.metrics)
	f.recovery = NewRecovery(f.store, f.store, f.hasher, f.codec, log, f.metrics)
	return f
}

func (f *fixture) hashed(t *testing.T, plain string) string {
	t.Helper()
	h, err := f.hasher.Hash(plain)
	if err != nil {
		t.Fatal(err)
	}
	return h
}
