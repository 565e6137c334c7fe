package auth

import "time"

// SignupCounter is the metadata/signupCounter document
type SignupCounter struct {
	Count       int       `json:"count"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// EarlyUserRegistry is the metadata/earlyUsers document. MemberIDs is in
// signup order and never reordered.
type EarlyUserRegistry struct {
	MemberIDs []string `json:"memberIds"`
}

// Position returns the 1-based position of id, 0 when absent
func (r EarlyUserRegistry) Position(id string) int {
	for i, member := range r.MemberIDs {
		if member == id {
			return i + 1
		}
	}
	return 0
}

// NotificationSettings are the per user notification toggles
type NotificationSettings struct {
	Email     bool `json:"email"`
	Push      bool `json:"push"`
	Marketing bool `json:"marketing"`
}

// DefaultNotificationSettings is what a new profile starts with
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{Email: true, Push: true}
}

// ProfileRecord is the users/<principalId> document
type ProfileRecord struct {
	ID                   string               `json:"id"`
	Email                string               `json:"email"`
	DisplayName          string               `json:"displayName"`
	PhotoURL             string               `json:"photoURL"`
	Bio                  string               `json:"bio"`
	Preference           Preference           `json:"preference"`
	NotificationSettings NotificationSettings `json:"notificationSettings"`
	IsEarlyUser          bool                 `json:"isEarlyUser"`
	SignupOrdinal        *int                 `json:"signupOrdinal"`

	Country             string `json:"country,omitempty"`
	Region              string `json:"region,omitempty"`
	School              string `json:"school,omitempty"`
	IsUniversityStudent bool   `json:"isUniversityStudent"`
	Department          string `json:"department,omitempty"`
	Grade               string `json:"grade,omitempty"`
	Level               string `json:"level,omitempty"`
	Syllabus            string `json:"syllabus,omitempty"`

	PolicyAcceptedAt *time.Time `json:"policyAcceptedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// PendingEmailLinkHandoff bridges SendEmailLinkChallenge and
// CompleteEmailLinkSignIn across client contexts.
type PendingEmailLinkHandoff struct {
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Expired reports whether the handoff outlived its TTL
func (h *PendingEmailLinkHandoff) Expired(now time.Time) bool {
	return h == nil || (!h.ExpiresAt.IsZero() && !now.Before(h.ExpiresAt))
}
