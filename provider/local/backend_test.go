package local

import (
	"context"
	"database/sql"
	"net/url"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-campus-auth"
	"github.com/goliatone/hashid/pkg/hashid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"golang.org/x/crypto/bcrypt"
)

// tickingClock advances by step on every read so consecutive writes get
// distinct timestamps
type tickingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newTickingClock() *tickingClock {
	return &tickingClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), step: time.Second}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *tickingClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []EmailLinkMessage
}

func (m *recordingMailer) SendEmailLink(ctx context.Context, msg EmailLinkMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) last(t *testing.T) EmailLinkMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no email link sent")
	return m.sent[len(m.sent)-1]
}

func setupDB(t *testing.T) *bun.DB {
	t.Helper()
	sqldb, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, CreateSchema(context.Background(), db))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type backendFixture struct {
	backend *Backend
	clock   *tickingClock
	mailer  *recordingMailer
	db      *bun.DB
}

func newBackendFixture(t *testing.T, opts ...BackendOption) *backendFixture {
	t.Helper()
	fx := &backendFixture{
		clock:  newTickingClock(),
		mailer: &recordingMailer{},
		db:     setupDB(t),
	}
	base := []BackendOption{
		WithBackendClock(fx.clock.Now),
		WithMailer(fx.mailer),
		WithPasswordCost(bcrypt.MinCost),
	}
	fx.backend = NewBackend(fx.db, append(base, opts...)...)
	return fx
}

func TestBackend_PasswordAccounts(t *testing.T) {
	ctx := context.Background()
	fx := newBackendFixture(t)

	created, err := fx.backend.CreateAccount(ctx, " Ada@Example.com ", "correct-horse")
	require.NoError(t, err)

	expectedID, err := hashid.NewUUID("ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, expectedID, created.ID)
	assert.Equal(t, "ada@example.com", created.Email)
	assert.Equal(t, "ada", created.DisplayName)
	assert.True(t, created.Principal().IsNew())

	t.Run("duplicate email", func(t *testing.T) {
		_, err := fx.backend.CreateAccount(ctx, "ADA@example.com", "another-pass")
		assert.ErrorIs(t, err, auth.ErrAccountExists)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := fx.backend.Authenticate(ctx, "ada@example.com", "wrong")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := fx.backend.Authenticate(ctx, "nobody@example.com", "correct-horse")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("sign in is not new", func(t *testing.T) {
		account, err := fx.backend.Authenticate(ctx, "ada@example.com", "correct-horse")
		require.NoError(t, err)
		assert.Equal(t, created.ID, account.ID)
		assert.False(t, account.Principal().IsNew())
		assert.True(t, account.LastSignInAt.After(account.CreatedAt))
	})

	t.Run("empty password", func(t *testing.T) {
		_, err := fx.backend.CreateAccount(ctx, "lin@example.com", "")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})
}

func TestBackend_UpdateDisplayMetadata(t *testing.T) {
	ctx := context.Background()
	fx := newBackendFixture(t)

	created, err := fx.backend.CreateAccount(ctx, "ada@example.com", "correct-horse")
	require.NoError(t, err)

	updated, err := fx.backend.UpdateDisplayMetadata(ctx, created.ID.String(), " Ada Lovelace ", "https://photos.test/ada.png")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", updated.DisplayName)
	assert.Equal(t, "https://photos.test/ada.png", updated.PhotoURL)
	assert.NotEmpty(t, updated.PasswordHash, "password survives a display update")

	_, err = fx.backend.UpdateDisplayMetadata(ctx, "not-a-uuid", "x", "")
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
}

func TestBackend_EmailLink(t *testing.T) {
	ctx := context.Background()
	fx := newBackendFixture(t, WithEmailLinkTTL(time.Hour))
	callback := "https://campus.test/auth/finish?email=lin%40example.com"

	require.NoError(t, fx.backend.SendEmailLink(ctx, "Lin@Example.com", callback))
	msg := fx.mailer.last(t)
	assert.Equal(t, "lin@example.com", msg.To)

	parsed, err := url.Parse(msg.Link)
	require.NoError(t, err)
	assert.Equal(t, "campus.test", parsed.Host)
	assert.Equal(t, "lin@example.com", parsed.Query().Get("email"))
	assert.NotEmpty(t, parsed.Query().Get(emailLinkCodeParam))

	t.Run("other email", func(t *testing.T) {
		_, err := fx.backend.CompleteEmailLink(ctx, "noor@example.com", msg.Link)
		assert.ErrorIs(t, err, auth.ErrInvalidOrExpiredLink)
	})

	t.Run("first use creates the account", func(t *testing.T) {
		account, err := fx.backend.CompleteEmailLink(ctx, "lin@example.com", msg.Link)
		require.NoError(t, err)
		assert.Equal(t, "lin@example.com", account.Email)
		assert.Empty(t, account.PasswordHash)
		assert.True(t, account.Principal().IsNew())
	})

	t.Run("single use", func(t *testing.T) {
		_, err := fx.backend.CompleteEmailLink(ctx, "lin@example.com", msg.Link)
		assert.ErrorIs(t, err, auth.ErrInvalidOrExpiredLink)
	})

	t.Run("existing account signs in", func(t *testing.T) {
		require.NoError(t, fx.backend.SendEmailLink(ctx, "lin@example.com", callback))
		account, err := fx.backend.CompleteEmailLink(ctx, "lin@example.com", fx.mailer.last(t).Link)
		require.NoError(t, err)
		assert.False(t, account.Principal().IsNew())
	})

	t.Run("expired", func(t *testing.T) {
		require.NoError(t, fx.backend.SendEmailLink(ctx, "lin@example.com", callback))
		link := fx.mailer.last(t).Link
		fx.clock.Advance(2 * time.Hour)

		_, err := fx.backend.CompleteEmailLink(ctx, "lin@example.com", link)
		assert.ErrorIs(t, err, auth.ErrInvalidOrExpiredLink)

		purged, err := fx.backend.PurgeExpiredChallenges(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, purged, int64(1))
	})

	t.Run("not a sign-in link", func(t *testing.T) {
		_, err := fx.backend.CompleteEmailLink(ctx, "lin@example.com", "https://campus.test/auth/finish")
		assert.ErrorIs(t, err, auth.ErrInvalidOrExpiredLink)

		_, err = fx.backend.CompleteEmailLink(ctx, "lin@example.com", "https://campus.test/?oobCode=unknown&mode=signIn")
		assert.ErrorIs(t, err, auth.ErrInvalidOrExpiredLink)
	})

	t.Run("bad callback", func(t *testing.T) {
		assert.Error(t, fx.backend.SendEmailLink(ctx, "lin@example.com", "/relative"))
	})
}

func TestBackend_EmailLinkQuota(t *testing.T) {
	ctx := context.Background()
	fx := newBackendFixture(t, WithDailyEmailLinkQuota(2))
	callback := "https://campus.test/auth/finish"

	require.NoError(t, fx.backend.SendEmailLink(ctx, "a@example.com", callback))
	require.NoError(t, fx.backend.SendEmailLink(ctx, "b@example.com", callback))

	err := fx.backend.SendEmailLink(ctx, "c@example.com", callback)
	assert.ErrorIs(t, err, auth.ErrProviderQuotaExceeded)

	fx.clock.Advance(12 * time.Hour)
	assert.NoError(t, fx.backend.SendEmailLink(ctx, "c@example.com", callback))
}
