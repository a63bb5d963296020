package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vendi-market/vendi/internal/domain"
	"github.com/vendi-market/vendi/internal/repository"
	"github.com/vendi-market/vendi/internal/security"

	"golang.org/x/crypto/bcrypt"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeUserRepo struct {
	mu     sync.Mutex
	nextID uint
	byID   map[uint]*domain.User
	err    error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{nextID: 1, byID: map[uint]*domain.User{}}
}

func (r *fakeUserRepo) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	for _, existing := range r.byID {
		if existing.Email == u.Email {
			return repository.ErrEmailTaken
		}
	}
	u.ID = r.nextID
	r.nextID++
	cp := *u
	r.byID[u.ID] = &cp
	return nil
}

func (r *fakeUserRepo) FindByID(_ context.Context, id uint) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	u, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	return r.findBy(func(u *domain.User) bool { return u.Email == email })
}

func (r *fakeUserRepo) FindActiveByEmail(_ context.Context, email string) (*domain.User, error) {
	return r.findBy(func(u *domain.User) bool { return u.Email == email && u.IsActive })
}

func (r *fakeUserRepo) findBy(match func(*domain.User) bool) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, u := range r.byID {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *fakeUserRepo) UpdatePasswordHash(_ context.Context, id uint, hash string, now time.Time) error {
	return r.mutate(id, func(u *domain.User) { u.PasswordHash = hash; u.UpdatedAt = now })
}

func (r *fakeUserRepo) SetVerified(_ context.Context, id uint, verified bool, now time.Time) error {
	return r.mutate(id, func(u *domain.User) { u.IsVerified = verified; u.UpdatedAt = now })
}

func (r *fakeUserRepo) SetActive(_ context.Context, id uint, active bool, now time.Time) error {
	return r.mutate(id, func(u *domain.User) { u.IsActive = active; u.UpdatedAt = now })
}

func (r *fakeUserRepo) mutate(id uint, fn func(*domain.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	fn(u)
	return nil
}

func (r *fakeUserRepo) activeUser(id uint) (*domain.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok || !u.IsActive {
		return nil, false
	}
	cp := *u
	return &cp, true
}

type fakeRememberRepo struct {
	mu      sync.Mutex
	nextID  uint
	rows    map[string]*domain.RememberToken
	users   *fakeUserRepo
	findErr error
}

func newFakeRememberRepo(users *fakeUserRepo) *fakeRememberRepo {
	return &fakeRememberRepo{nextID: 1, rows: map[string]*domain.RememberToken{}, users: users}
}

func (r *fakeRememberRepo) Create(_ context.Context, t *domain.RememberToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(t)
}

func (r *fakeRememberRepo) insertLocked(t *domain.RememberToken) error {
	if _, exists := r.rows[t.Selector]; exists {
		return errors.New("UNIQUE constraint failed: remember_tokens.selector")
	}
	t.ID = r.nextID
	r.nextID++
	cp := *t
	r.rows[t.Selector] = &cp
	return nil
}

func (r *fakeRememberRepo) FindValidBySelector(_ context.Context, selector string, now time.Time) (*domain.RememberToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	row, ok := r.rows[selector]
	if !ok || !row.ExpiresAt.After(now) {
		return nil, repository.ErrRememberTokenNotFound
	}
	user, ok := r.users.activeUser(row.UserID)
	if !ok {
		return nil, repository.ErrRememberTokenNotFound
	}
	cp := *row
	cp.User = user
	return &cp, nil
}

func (r *fakeRememberRepo) Rotate(_ context.Context, oldSelector string, next *domain.RememberToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[oldSelector]; !ok {
		return repository.ErrRememberTokenNotFound
	}
	delete(r.rows, oldSelector)
	return r.insertLocked(next)
}

func (r *fakeRememberRepo) DeleteBySelector(_ context.Context, selector string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, selector)
	return nil
}

func (r *fakeRememberRepo) DeleteByUserID(_ context.Context, userID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for sel, row := range r.rows {
		if row.UserID == userID {
			delete(r.rows, sel)
			n++
		}
	}
	return n, nil
}

func (r *fakeRememberRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for sel, row := range r.rows {
		if !row.ExpiresAt.After(now) {
			delete(r.rows, sel)
			n++
		}
	}
	return n, nil
}

func (r *fakeRememberRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

type fakeResetRepo struct {
	mu     sync.Mutex
	nextID uint
	rows   map[string]*domain.PasswordResetToken
	users  *fakeUserRepo
}

func newFakeResetRepo(users *fakeUserRepo) *fakeResetRepo {
	return &fakeResetRepo{nextID: 1, rows: map[string]*domain.PasswordResetToken{}, users: users}
}

func (r *fakeResetRepo) Create(_ context.Context, t *domain.PasswordResetToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.ID = r.nextID
	r.nextID++
	cp := *t
	r.rows[t.Token] = &cp
	return nil
}

func (r *fakeResetRepo) FindValidByToken(_ context.Context, token string, now time.Time) (*domain.PasswordResetTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.validLocked(token, now)
}

func (r *fakeResetRepo) validLocked(token string, now time.Time) (*domain.PasswordResetTarget, error) {
	row, ok := r.rows[token]
	if !ok || row.Used || !row.ExpiresAt.After(now) {
		return nil, repository.ErrResetTokenNotFound
	}
	user, ok := r.users.activeUser(row.UserID)
	if !ok {
		return nil, repository.ErrResetTokenNotFound
	}
	return &domain.PasswordResetTarget{TokenID: row.ID, UserID: row.UserID, Email: user.Email}, nil
}

func (r *fakeResetRepo) ConsumeWithPassword(ctx context.Context, token, passwordHash string, now time.Time) (*domain.PasswordResetTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, err := r.validLocked(token, now)
	if err != nil {
		return nil, err
	}
	r.rows[token].Used = true
	if err := r.users.UpdatePasswordHash(ctx, target.UserID, passwordHash, now); err != nil {
		return nil, err
	}
	return target, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	links []string
}

func (n *recordingNotifier) NotifyPasswordReset(_ context.Context, _ string, link string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.links = append(n.links, link)
	return nil
}

func (n *recordingNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.links...)
}

func (n *recordingNotifier) lastToken(t *testing.T) string {
	t.Helper()
	links := n.sent()
	if len(links) == 0 {
		t.Fatal("no reset link was sent")
	}
	last := links[len(links)-1]
	return last[strings.LastIndex(last, "/")+1:]
}

type failingSessionStore struct {
	SessionStore
	getErr  error
	saveErr error
}

func (s failingSessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.SessionStore.Get(ctx, id)
}

func (s failingSessionStore) Save(ctx context.Context, sess *domain.Session) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.SessionStore.Save(ctx, sess)
}

type authFixture struct {
	clock       *testClock
	users       *fakeUserRepo
	rememberDB  *fakeRememberRepo
	resetDB     *fakeResetRepo
	notifier    *recordingNotifier
	store       SessionStore
	hasher      *security.PasswordHasher
	sessions    *SessionService
	rememberSvc *RememberTokenService
	resetSvc    *PasswordResetService
	auth        *AuthService
}

func newAuthFixture(t *testing.T) *authFixture {
	return newAuthFixtureWithStore(t, nil)
}

func newAuthFixtureWithStore(t *testing.T, wrap func(SessionStore) SessionStore) *authFixture {
	t.Helper()
	f := &authFixture{clock: newTestClock(), notifier: &recordingNotifier{}}
	f.users = newFakeUserRepo()
	f.rememberDB = newFakeRememberRepo(f.users)
	f.resetDB = newFakeResetRepo(f.users)
	f.store = NewInMemorySessionStore(f.clock.Now)
	if wrap != nil {
		f.store = wrap(f.store)
	}
	f.hasher = security.NewPasswordHasher(bcrypt.MinCost, 4)
	f.sessions = NewSessionService(f.store, 7*24*time.Hour, f.clock.Now, nil, nil)
	f.rememberSvc = NewRememberTokenService(f.rememberDB, f.hasher, 30*24*time.Hour, f.clock.Now, nil, nil)
	f.resetSvc = NewPasswordResetService(f.users, f.resetDB, f.hasher, time.Hour, f.clock.Now, nil)
	f.auth = NewAuthService(f.users, f.hasher, f.sessions, f.rememberSvc, f.resetSvc, f.notifier, "http://localhost:3000/", f.clock.Now, nil)
	return f
}

func (f *authFixture) register(t *testing.T, name, email, password string, remember bool) *AuthResult {
	t.Helper()
	res, err := f.auth.Register(context.Background(), RegisterInput{
		FullName:        name,
		Email:           email,
		Password:        password,
		ConfirmPassword: password,
		Remember:        remember,
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return res
}
