package auth

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
)

const (
	CacheKeySessionCredential = "auth.session"
	CacheKeyEmailLinkHandoff  = "auth.emailLinkHandoff"

	// DefaultHandoffTTL bounds how long an unused email link handoff survives
	DefaultHandoffTTL = 24 * time.Hour

	// DefaultDisplayName is used for email link accounts without a handoff
	DefaultDisplayName = "User"

	emailQueryParam = "email"
)

// handoffStore reads and writes the email link handoff in the local cache
type handoffStore struct {
	cache  LocalCache
	ttl    time.Duration
	now    func() time.Time
	logger Logger
}

func (h handoffStore) Save(ctx context.Context, email, displayName string) (*PendingEmailLinkHandoff, error) {
	now := h.now().UTC()
	record := &PendingEmailLinkHandoff{
		Email:       email,
		DisplayName: displayName,
		CreatedAt:   now,
		ExpiresAt:   now.Add(h.ttl),
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to encode email link handoff")
	}
	if err := h.cache.Set(ctx, CacheKeyEmailLinkHandoff, string(raw), h.ttl); err != nil {
		return nil, err
	}
	return record, nil
}

// Load returns nil when there is no usable handoff
func (h handoffStore) Load(ctx context.Context) *PendingEmailLinkHandoff {
	raw, err := h.cache.Get(ctx, CacheKeyEmailLinkHandoff)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			h.logger.Warn("email link handoff read failed: %v", err)
		}
		return nil
	}

	record := &PendingEmailLinkHandoff{}
	if err := json.Unmarshal([]byte(raw), record); err != nil {
		h.logger.Warn("discarding unreadable email link handoff: %v", err)
		h.Clear(ctx)
		return nil
	}

	if record.Expired(h.now()) {
		h.Clear(ctx)
		return nil
	}
	return record
}

func (h handoffStore) Clear(ctx context.Context) {
	if err := h.cache.Remove(ctx, CacheKeyEmailLinkHandoff); err != nil {
		h.logger.Warn("email link handoff clear failed: %v", err)
	}
}

// EmailLinkCallbackURL appends the signer's email to base so that a link
// opened in another browser can still recover the address.
func EmailLinkCallbackURL(base, email string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryBadInput, "invalid email link callback url")
	}
	q := u.Query()
	q.Set(emailQueryParam, email)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// EmailFromLink returns the email embedded in a sign-in link, if any. The
// provider may nest the callback URL in a continueUrl parameter.
func EmailFromLink(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	q := u.Query()
	if email := strings.TrimSpace(q.Get(emailQueryParam)); email != "" {
		return email
	}
	if next := q.Get("continueUrl"); next != "" && next != link {
		return EmailFromLink(next)
	}
	return ""
}
