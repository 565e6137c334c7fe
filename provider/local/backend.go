package local

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"net/url"
	"strings"
	"time"

	auth "github.com/goliatone/go-campus-auth"
	"github.com/goliatone/go-campus-auth/social"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"golang.org/x/time/rate"
)

const (
	DefaultEmailLinkTTL        = time.Hour
	DefaultDailyEmailLinkQuota = 500

	// emailLinkCodeParam carries the challenge code in the link query
	emailLinkCodeParam = "oobCode"
	emailLinkModeParam = "mode"
	emailLinkModeValue = "signIn"
)

// Backend holds the account state shared by every client context.
type Backend struct {
	db         *bun.DB
	accounts   Accounts
	challenges *Challenges
	identities *Identities
	hasher     PasswordHasher
	mailer     Mailer
	federation *social.Federation
	// federationOpts is resolved into federation by NewBackend
	federationOpts *auth.FederationOptions
	quota          *rate.Limiter
	linkTTL        time.Duration
	logger         auth.Logger
	now            func() time.Time
}

type BackendOption func(*Backend)

func WithBackendLogger(logger auth.Logger) BackendOption {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithBackendClock(now func() time.Time) BackendOption {
	return func(b *Backend) {
		if now != nil {
			b.now = now
		}
	}
}

func WithMailer(m Mailer) BackendOption {
	return func(b *Backend) {
		if m != nil {
			b.mailer = m
		}
	}
}

func WithPasswordCost(cost int) BackendOption {
	return func(b *Backend) {
		b.hasher = NewPasswordHasher(cost)
	}
}

func WithEmailLinkTTL(ttl time.Duration) BackendOption {
	return func(b *Backend) {
		if ttl > 0 {
			b.linkTTL = ttl
		}
	}
}

// WithDailyEmailLinkQuota caps how many sign-in links are sent per day.
// The budget refills evenly over the day.
func WithDailyEmailLinkQuota(perDay int) BackendOption {
	return func(b *Backend) {
		if perDay > 0 {
			b.quota = dailyLimiter(perDay)
		}
	}
}

// WithFederation enables federated sign in through the given providers
func WithFederation(f *social.Federation) BackendOption {
	return func(b *Backend) {
		b.federation = f
	}
}

func NewBackend(db *bun.DB, opts ...BackendOption) *Backend {
	b := &Backend{
		db:         db,
		accounts:   NewAccountsRepository(db),
		challenges: NewChallenges(db),
		identities: NewIdentities(db),
		hasher:     NewPasswordHasher(DefaultPasswordCost),
		quota:      dailyLimiter(DefaultDailyEmailLinkQuota),
		linkTTL:    DefaultEmailLinkTTL,
		logger:     nopLogger{},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.mailer == nil {
		b.mailer = LogMailer{Logger: b.logger}
	}
	if b.federationOpts != nil {
		b.federation = NewFederationFromOptions(*b.federationOpts, b.logger)
	}
	return b
}

func dailyLimiter(perDay int) *rate.Limiter {
	return rate.NewLimiter(rate.Every(24*time.Hour/time.Duration(perDay)), perDay)
}

func (b *Backend) Accounts() Accounts {
	return b.accounts
}

func (b *Backend) Identities() *Identities {
	return b.identities
}

// clock truncates to what the SQL drivers round trip
func (b *Backend) clock() time.Time {
	return b.now().UTC().Truncate(time.Microsecond)
}

// Account loads an account by principal id
func (b *Backend) Account(ctx context.Context, principalID string) (*Account, error) {
	if _, err := uuid.Parse(principalID); err != nil {
		return nil, auth.ErrNotAuthenticated
	}
	account, err := b.accounts.GetByID(ctx, principalID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, auth.ErrNotAuthenticated
		}
		return nil, errors.Wrap(err, errors.CategoryExternal, "failed to load account")
	}
	return account, nil
}

// CreateAccount registers a password account. The new account counts as
// signed in so the principal it yields reports IsNew.
func (b *Backend) CreateAccount(ctx context.Context, email, password string) (*Account, error) {
	email = NormalizeEmail(email)
	hash, err := b.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	var created *Account
	err = b.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := b.accounts.ByEmailTx(ctx, tx, email); err == nil {
			return auth.ErrAccountExists
		} else if !repository.IsRecordNotFound(err) {
			return err
		}

		created, err = b.register(ctx, tx, &Account{
			Email:        email,
			PasswordHash: hash,
			DisplayName:  displayNameFromEmail(email),
		})
		return err
	})
	if err != nil {
		return nil, b.storageError(err, "failed to create account")
	}

	b.logger.Info("account created id=%s", created.ID)
	return created, nil
}

func (b *Backend) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	account, err := b.accounts.ByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, auth.ErrInvalidCredentials
		}
		return nil, b.storageError(err, "failed to load account")
	}

	if err := b.hasher.Compare(password, account.PasswordHash); err != nil {
		b.logger.Debug("password rejected for %s", account.ID)
		return nil, err
	}

	if err := b.accounts.TouchSignIn(ctx, b.db, account, b.clock()); err != nil {
		return nil, b.storageError(err, "failed to record sign in")
	}
	return account, nil
}

// SendEmailLink stores a challenge and mails a link that points at
// callbackURL with the challenge code attached.
func (b *Backend) SendEmailLink(ctx context.Context, email, callbackURL string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return auth.ErrMissingEmail
	}

	now := b.clock()
	if !b.quota.AllowN(now, 1) {
		b.logger.Warn("email link quota exhausted")
		return auth.ErrProviderQuotaExceeded
	}

	code, err := challengeCode()
	if err != nil {
		return err
	}

	link, err := challengeLink(callbackURL, code)
	if err != nil {
		return err
	}

	challenge := &EmailLinkChallenge{
		Code:        code,
		Email:       email,
		CallbackURL: callbackURL,
		CreatedAt:   now,
		ExpiresAt:   now.Add(b.linkTTL),
	}
	if err := b.challenges.Create(ctx, challenge); err != nil {
		return b.storageError(err, "failed to store email link challenge")
	}

	return b.mailer.SendEmailLink(ctx, EmailLinkMessage{
		To:        email,
		Link:      link,
		ExpiresIn: b.linkTTL.String(),
	})
}

// CompleteEmailLink consumes the challenge in link and returns the account
// for email, creating a passwordless one on first use.
func (b *Backend) CompleteEmailLink(ctx context.Context, email, link string) (*Account, error) {
	email = NormalizeEmail(email)
	code := challengeCodeFromLink(link)
	if code == "" {
		return nil, auth.ErrInvalidOrExpiredLink
	}

	var account *Account
	err := b.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		challenge, err := b.challenges.Get(ctx, tx, code)
		if err != nil {
			return err
		}

		now := b.clock()
		if challenge.UsedAt != nil || !now.Before(challenge.ExpiresAt) || challenge.Email != email {
			return auth.ErrInvalidOrExpiredLink
		}

		consumed, err := b.challenges.Consume(ctx, tx, code, now)
		if err != nil {
			return err
		}
		if !consumed {
			return auth.ErrInvalidOrExpiredLink
		}

		account, err = b.signInOrRegister(ctx, tx, &Account{
			Email:       email,
			DisplayName: displayNameFromEmail(email),
		})
		return err
	})
	if err != nil {
		return nil, b.storageError(err, "failed to complete email link sign in")
	}
	return account, nil
}

func (b *Backend) BeginFederated(ctx context.Context, provider, redirectURL string) (*auth.FederatedRedirect, error) {
	if b.federation == nil {
		return nil, auth.ErrFederationUnsupported
	}
	authURL, state, err := b.federation.Begin(ctx, provider, redirectURL)
	if err != nil {
		return nil, err
	}
	return &auth.FederatedRedirect{URL: authURL, State: state}, nil
}

// CompleteFederated finishes an OAuth round trip. The identity is matched by
// provider subject first, then by verified email, and a new account is
// created when neither exists.
func (b *Backend) CompleteFederated(ctx context.Context, req auth.FederatedSignIn) (*Account, error) {
	if b.federation == nil {
		return nil, auth.ErrFederationUnsupported
	}

	profile, err := b.federation.Complete(ctx, req.Provider, req.Code, req.State)
	if err != nil {
		return nil, err
	}

	var account *Account
	err = b.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		identity, err := b.identities.Find(ctx, tx, profile.Provider, profile.ProviderUserID)
		switch {
		case err == nil:
			account, err = b.accounts.ByIDTx(ctx, tx, identity.AccountID)
			if err != nil {
				return err
			}
			if err := b.accounts.TouchSignIn(ctx, tx, account, b.clock()); err != nil {
				return err
			}
		case repository.IsRecordNotFound(err):
			account, err = b.signInOrRegister(ctx, tx, &Account{
				Email:       profile.Email,
				DisplayName: profile.DisplayName(),
				PhotoURL:    profile.AvatarURL,
			})
			if err != nil {
				return err
			}
		default:
			return err
		}

		now := b.clock()
		return b.identities.Upsert(ctx, tx, &LinkedIdentity{
			AccountID:      account.ID,
			Provider:       profile.Provider,
			ProviderUserID: profile.ProviderUserID,
			Email:          profile.Email,
			Name:           profile.Name,
			AvatarURL:      profile.AvatarURL,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	})
	if err != nil {
		return nil, b.storageError(err, "failed to complete federated sign in")
	}

	b.logger.Info("federated sign in provider=%s account=%s", profile.Provider, account.ID)
	return account, nil
}

func (b *Backend) UpdateDisplayMetadata(ctx context.Context, principalID, displayName, photoURL string) (*Account, error) {
	id, err := uuid.Parse(principalID)
	if err != nil {
		return nil, auth.ErrNotAuthenticated
	}
	account, err := b.accounts.UpdateDisplay(ctx, id, strings.TrimSpace(displayName), strings.TrimSpace(photoURL), b.clock())
	if err != nil {
		return nil, b.storageError(err, "failed to update display metadata")
	}
	return account, nil
}

// PurgeExpiredChallenges removes challenges past their expiry
func (b *Backend) PurgeExpiredChallenges(ctx context.Context) (int64, error) {
	return b.challenges.Purge(ctx, b.clock())
}

func (b *Backend) signInOrRegister(ctx context.Context, tx bun.IDB, candidate *Account) (*Account, error) {
	existing, err := b.accounts.ByEmailTx(ctx, tx, candidate.Email)
	if err == nil {
		return existing, b.accounts.TouchSignIn(ctx, tx, existing, b.clock())
	}
	if !repository.IsRecordNotFound(err) {
		return nil, err
	}
	return b.register(ctx, tx, candidate)
}

func (b *Backend) register(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	now := b.clock()
	account.CreatedAt = now
	account.LastSignInAt = now
	account.UpdatedAt = now
	return b.accounts.Register(ctx, tx, account)
}

// storageError keeps domain sentinels intact and wraps everything else
func (b *Backend) storageError(err error, message string) error {
	var domain *errors.Error
	if errors.As(err, &domain) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotAuthenticated
	}
	b.logger.Error("%s: %v", message, err)
	return errors.Wrap(err, errors.CategoryExternal, message)
}

func challengeCode() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to generate challenge code")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func challengeLink(callbackURL, code string) (string, error) {
	u, err := url.Parse(callbackURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", errors.New("invalid email link callback url", errors.CategoryBadInput).
			WithMetadata(map[string]any{"callback_url": callbackURL})
	}
	q := u.Query()
	q.Set(emailLinkCodeParam, code)
	q.Set(emailLinkModeParam, emailLinkModeValue)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func challengeCodeFromLink(link string) string {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return ""
	}
	q := u.Query()
	if q.Get(emailLinkModeParam) != emailLinkModeValue {
		return ""
	}
	return q.Get(emailLinkCodeParam)
}

func displayNameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
