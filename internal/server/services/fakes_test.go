package services

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/keys"
	"github.com/dmitrijs2005/authkeeper/internal/server/mail"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/emailverifications"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/signingkeys"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/authkeeper/internal/server/sessions"
	"github.com/dmitrijs2005/authkeeper/internal/server/tokens"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const (
	accessTTL  = 15 * time.Minute
	refreshTTL = 7 * 24 * time.Hour
	emailTTL   = 10 * time.Minute
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// --- repositories ---

type fakeRefreshRepo struct {
	mu      sync.Mutex
	records map[string]*models.RefreshToken
	// loseRace makes Deactivate report that another rotation got there first
	loseRace bool
}

func newFakeRefreshRepo() *fakeRefreshRepo {
	return &fakeRefreshRepo{records: map[string]*models.RefreshToken{}}
}

func (f *fakeRefreshRepo) Create(_ context.Context, t *models.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[t.Token]; ok {
		return common.ErrorAlreadyExists
	}
	c := *t
	f.records[t.Token] = &c
	return nil
}

func (f *fakeRefreshRepo) FindActive(_ context.Context, token string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[token]
	if !ok || !r.IsActive {
		return nil, common.ErrorNotFound
	}
	c := *r
	return &c, nil
}

func (f *fakeRefreshRepo) Deactivate(_ context.Context, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[token]
	if f.loseRace || !ok || !r.IsActive {
		return false, nil
	}
	r.IsActive = false
	return true, nil
}

func (f *fakeRefreshRepo) DeactivateSession(_ context.Context, userID, sessionID string) (int64, error) {
	return f.deactivateWhere(func(r *models.RefreshToken) bool {
		return r.SessionID == sessionID && r.UserID == userID
	}), nil
}

func (f *fakeRefreshRepo) DeactivateUser(_ context.Context, userID string) (int64, error) {
	return f.deactivateWhere(func(r *models.RefreshToken) bool { return r.UserID == userID }), nil
}

func (f *fakeRefreshRepo) deactivateWhere(match func(*models.RefreshToken) bool) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.records {
		if r.IsActive && match(r) {
			r.IsActive = false
			n++
		}
	}
	return n
}

func (f *fakeRefreshRepo) get(token string) *models.RefreshToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[token]
	if !ok {
		return nil
	}
	c := *r
	return &c
}

func (f *fakeRefreshRepo) update(token string, fn func(*models.RefreshToken)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.records[token])
}

func (f *fakeRefreshRepo) activeCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.records {
		if r.UserID == userID && r.IsActive {
			n++
		}
	}
	return n
}

type fakeVerificationRepo struct {
	mu        sync.Mutex
	records   map[string]*models.EmailVerification
	createErr error
}

func newFakeVerificationRepo() *fakeVerificationRepo {
	return &fakeVerificationRepo{records: map[string]*models.EmailVerification{}}
}

func (f *fakeVerificationRepo) Create(_ context.Context, v *models.EmailVerification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	c := *v
	f.records[v.Token] = &c
	return nil
}

func (f *fakeVerificationRepo) Get(_ context.Context, token string) (*models.EmailVerification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.records[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *v
	return &c, nil
}

func (f *fakeVerificationRepo) MarkVerified(_ context.Context, token string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.records[token]
	if !ok || v.IsVerified || !now.Before(v.ExpiresAt) {
		return false, nil
	}
	v.IsVerified = true
	return true, nil
}

func (f *fakeVerificationRepo) Consume(_ context.Context, token, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.records[token]
	if !ok || v.Email != email || !v.IsVerified || v.IsUsed {
		return false, nil
	}
	v.IsUsed = true
	return true, nil
}

type fakeUsersRepo struct {
	mu      sync.Mutex
	byLogin map[string]*models.User
	getErr  error
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{byLogin: map[string]*models.User{}}
}

func (f *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byLogin {
		if existing.Login == u.Login || existing.Email == u.Email {
			return nil, fmt.Errorf("%w: users_login_key", common.ErrorAlreadyExists)
		}
	}
	c := *u
	c.CreatedAt = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	f.byLogin[u.Login] = &c
	out := c
	return &out, nil
}

func (f *fakeUsersRepo) GetUserByLogin(_ context.Context, login string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byLogin[login]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUsersRepo) GetUserByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byLogin {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

type fakeRepoManager struct {
	users         *fakeUsersRepo
	refresh       *fakeRefreshRepo
	verifications *fakeVerificationRepo
	keys          *signingkeys.MemoryRepository
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		users:         newFakeUsersRepo(),
		refresh:       newFakeRefreshRepo(),
		verifications: newFakeVerificationRepo(),
		keys:          signingkeys.NewMemoryRepository(),
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository             { return m.users }
func (m *fakeRepoManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository {
	return m.refresh
}
func (m *fakeRepoManager) SigningKeys(dbx.DBTX) signingkeys.Repository { return m.keys }
func (m *fakeRepoManager) EmailVerifications(dbx.DBTX) emailverifications.Repository {
	return m.verifications
}

// --- mail ---

type fakeSender struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (f *fakeSender) SendVerification(_ context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) last() mail.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

// --- wiring ---

type env struct {
	clock         *clock
	db            *sql.DB
	mock          sqlmock.Sqlmock
	mr            *miniredis.Miniredis
	repos         *fakeRepoManager
	sessions      *sessions.Store
	rotator       *keys.Rotator
	access        *auth.AccessTokens
	tokens        *TokenService
	mailer        *fakeSender
	verifications *VerificationService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	c := &clock{now: time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)}

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repos := newFakeRepoManager()
	dir := t.TempDir()
	files := keys.NewFileStore(filepath.Join(dir, "private"), filepath.Join(dir, "public"), nil)
	rotator := keys.NewRotator(repos.keys, files, logging.Nop(), time.Hour, accessTTL,
		keys.WithClock(c.Now), keys.WithKeyBits(1024))
	require.NoError(t, rotator.Load(context.Background()))

	access := auth.NewAccessTokens(rotator, accessTTL, auth.WithClock(c.Now))
	refresh, err := tokens.NewRefreshTokens(32, refreshTTL, true, tokens.WithClock(c.Now))
	require.NoError(t, err)

	store := sessions.NewStore(rdb, sessions.WithStoreClock(c.Now))
	ts := NewTokenService(db, repos, store, access, refresh, logging.Nop())
	ts.now = c.Now

	mailer := &fakeSender{}
	cache := sessions.NewVerificationCache(rdb, 3, sessions.WithVerificationClock(c.Now))
	vs := NewVerificationService(db, repos, cache, mailer, emailTTL, 6, logging.Nop())
	vs.now = c.Now

	return &env{
		clock:         c,
		db:            db,
		mock:          mock,
		mr:            mr,
		repos:         repos,
		sessions:      store,
		rotator:       rotator,
		access:        access,
		tokens:        ts,
		mailer:        mailer,
		verifications: vs,
	}
}
