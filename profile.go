package auth

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/gosimple/slug"
)

// DefaultAvatarURLTemplate renders initials avatars, {seed} is replaced
const DefaultAvatarURLTemplate = "https://api.dicebear.com/7.x/initials/svg?seed={seed}"

// GeneratedAvatarURL builds a deterministic avatar for users without a photo
func GeneratedAvatarURL(template, displayName string) string {
	if template == "" {
		template = DefaultAvatarURLTemplate
	}
	seed := slug.Make(displayName)
	if seed == "" {
		seed = "user"
	}
	return strings.ReplaceAll(template, "{seed}", url.QueryEscape(seed))
}

// IsProfileComplete reports whether the academic profile has everything the
// onboarding flow asks for.
func IsProfileComplete(p *ProfileRecord) bool {
	if p == nil {
		return false
	}
	if !present(p.Country) || !present(p.Region) || !present(p.School) {
		return false
	}
	if p.IsUniversityStudent {
		return present(p.Department)
	}
	return (present(p.Grade) || present(p.Level)) && present(p.Syllabus)
}

func present(s string) bool {
	return strings.TrimSpace(s) != ""
}

// Profiles gives typed access to the users collection
type Profiles struct {
	store DocumentStore
	now   func() time.Time
}

var _ PreferenceRemote = (*Profiles)(nil)

func NewProfiles(store DocumentStore, clock func() time.Time) *Profiles {
	if clock == nil {
		clock = time.Now
	}
	return &Profiles{store: store, now: clock}
}

func profileRef(principalID string) DocumentRef {
	return DocumentRef{Collection: CollectionUsers, ID: principalID}
}

func (p *Profiles) Get(ctx context.Context, principalID string) (*ProfileRecord, error) {
	doc, err := p.store.Get(ctx, profileRef(principalID))
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}

	record := &ProfileRecord{}
	if err := DecodeDocument(doc, record); err != nil {
		return nil, err
	}
	if record.ID == "" {
		record.ID = principalID
	}
	return record, nil
}

// profileIdentityFields are written on every bootstrap. Everything else in
// a profile belongs to the user once the document exists.
var profileIdentityFields = []string{
	"id", "email", "displayName", "photoURL", "isEarlyUser", "signupOrdinal", "updatedAt",
}

// profileDefaultFields are written only when the document lacks them
var profileDefaultFields = []string{
	"preference", "notificationSettings", "policyAcceptedAt", "createdAt",
}

// CreateOrMerge merge-creates the bootstrap fields of a profile. A new
// document gets the whole record. An existing one only gets the identity
// fields plus defaults it is missing, user edits are kept.
func (p *Profiles) CreateOrMerge(ctx context.Context, record *ProfileRecord) error {
	if record == nil || record.ID == "" {
		return errors.New("profile id is required", errors.CategoryBadInput)
	}

	now := p.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if !record.Preference.Valid() {
		record.Preference = PreferenceSystem
	}

	full, err := EncodeDocument(record)
	if err != nil {
		return err
	}

	ref := profileRef(record.ID)
	existing, err := p.store.Get(ctx, ref)
	switch {
	case errors.Is(err, ErrDocumentNotFound):
		existing = nil
	case err != nil:
		return errors.Wrap(err, errors.CategoryExternal, "failed to read profile").
			WithMetadata(map[string]any{"principal_id": record.ID})
	}

	fields := full
	if existing != nil {
		fields = Document{}
		for _, key := range profileIdentityFields {
			fields[key] = full[key]
		}
		for _, key := range profileDefaultFields {
			value, ok := full[key]
			if _, present := existing[key]; ok && !present {
				fields[key] = value
			}
		}
	}

	if err := p.store.Merge(ctx, ref, fields); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "failed to write profile").
			WithMetadata(map[string]any{"principal_id": record.ID})
	}
	return nil
}

func (p *Profiles) UpdatePreference(ctx context.Context, principalID string, pref Preference) error {
	if !pref.Valid() {
		return ErrInvalidPreference
	}
	return p.store.Update(ctx, profileRef(principalID), Document{
		"preference": string(pref),
		"updatedAt":  p.now().UTC(),
	})
}

func (p *Profiles) FetchPreference(ctx context.Context, principalID string) (Preference, error) {
	record, err := p.Get(ctx, principalID)
	if err != nil {
		return "", err
	}
	return record.Preference, nil
}
