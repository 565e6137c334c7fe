package auth

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
)

// Duration decodes TOML strings such as "720h"
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// SessionOptions configure credential signing
type SessionOptions struct {
	SigningKey string   `toml:"signing_key"`
	Issuer     string   `toml:"issuer"`
	Audience   []string `toml:"audience"`
	Window     Duration `toml:"window"`
}

// SignupOptions configure the founder allocator
type SignupOptions struct {
	FounderCapacity     int      `toml:"founder_capacity"`
	AllocationRetries   int      `toml:"allocation_retries"`
	AllocationRetryBase Duration `toml:"allocation_retry_base"`
	AvatarURLTemplate   string   `toml:"avatar_url_template"`
}

// EmailLinkOptions configure passwordless sign-in
type EmailLinkOptions struct {
	CallbackURL string   `toml:"callback_url"`
	HandoffTTL  Duration `toml:"handoff_ttl"`
}

// DefaultFederationStateTTL bounds an OAuth round trip
const DefaultFederationStateTTL = 10 * time.Minute

// GoogleOptions configure Google sign-in. An empty client id disables it.
type GoogleOptions struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	CallbackURL  string   `toml:"callback_url"`
	Scopes       []string `toml:"scopes"`
}

// FederationOptions configure federated sign-in
type FederationOptions struct {
	StateSecret string        `toml:"state_secret"`
	StateTTL    Duration      `toml:"state_ttl"`
	Google      GoogleOptions `toml:"google"`
}

// Enabled reports whether at least one provider is configured
func (f FederationOptions) Enabled() bool {
	return f.Google.ClientID != ""
}

// Options is the file backed Config implementation
type Options struct {
	Session    SessionOptions    `toml:"session"`
	Signup     SignupOptions     `toml:"signup"`
	EmailLink  EmailLinkOptions  `toml:"email_link"`
	Federation FederationOptions `toml:"federation"`
}

var _ Config = (*Options)(nil)

// DefaultOptions returns options with every default filled in. The signing
// key is left empty on purpose and must be provided.
func DefaultOptions() *Options {
	o := &Options{}
	o.SetDefaults()
	return o
}

// SetDefaults fills zero values
func (o *Options) SetDefaults() {
	if o.Session.Window.Duration <= 0 {
		o.Session.Window.Duration = DefaultSessionWindow
	}
	if o.Session.Issuer == "" {
		o.Session.Issuer = "go-campus-auth"
	}
	if o.Signup.FounderCapacity <= 0 {
		o.Signup.FounderCapacity = DefaultFounderCapacity
	}
	if o.Signup.AllocationRetries <= 0 {
		o.Signup.AllocationRetries = DefaultAllocationMaxRetries
	}
	if o.Signup.AllocationRetryBase.Duration <= 0 {
		o.Signup.AllocationRetryBase.Duration = DefaultAllocationRetryBase
	}
	if o.Signup.AvatarURLTemplate == "" {
		o.Signup.AvatarURLTemplate = DefaultAvatarURLTemplate
	}
	if o.EmailLink.HandoffTTL.Duration <= 0 {
		o.EmailLink.HandoffTTL.Duration = DefaultHandoffTTL
	}
	if o.Federation.StateTTL.Duration <= 0 {
		o.Federation.StateTTL.Duration = DefaultFederationStateTTL
	}
}

// Validate checks the options once defaults were applied
func (o *Options) Validate() error {
	federated := o.Federation.Enabled()
	err := validation.Errors{
		"session.signing_key": validation.Validate(o.Session.SigningKey,
			validation.Required, validation.Length(32, 0)),
		"signup.founder_capacity": validation.Validate(o.Signup.FounderCapacity,
			validation.Required, validation.Min(1)),
		"email_link.callback_url": validation.Validate(o.EmailLink.CallbackURL,
			validation.Required, is.URL),
		"federation.state_secret": validation.Validate(o.Federation.StateSecret,
			validation.When(federated, validation.Required, validation.Length(32, 0))),
		"federation.google.client_secret": validation.Validate(o.Federation.Google.ClientSecret,
			validation.When(federated, validation.Required)),
		"federation.google.callback_url": validation.Validate(o.Federation.Google.CallbackURL, is.URL),
	}.Filter()
	if err != nil {
		return errors.FromOzzoValidation(err, "invalid auth options")
	}
	return nil
}

// ApplyEnv loads the given dotenv files, missing files are ignored, and
// applies CAMPUS_AUTH_* overrides from the environment.
func (o *Options) ApplyEnv(envFiles ...string) {
	for _, file := range envFiles {
		_ = godotenv.Load(file)
	}

	if v := os.Getenv("CAMPUS_AUTH_SIGNING_KEY"); v != "" {
		o.Session.SigningKey = v
	}
	if v := os.Getenv("CAMPUS_AUTH_ISSUER"); v != "" {
		o.Session.Issuer = v
	}
	if v := os.Getenv("CAMPUS_AUTH_CALLBACK_URL"); v != "" {
		o.EmailLink.CallbackURL = v
	}
	if v := os.Getenv("CAMPUS_AUTH_FOUNDER_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.Signup.FounderCapacity = n
		}
	}
	if v := os.Getenv("CAMPUS_AUTH_STATE_SECRET"); v != "" {
		o.Federation.StateSecret = v
	}
	if v := os.Getenv("CAMPUS_AUTH_GOOGLE_CLIENT_ID"); v != "" {
		o.Federation.Google.ClientID = v
	}
	if v := os.Getenv("CAMPUS_AUTH_GOOGLE_CLIENT_SECRET"); v != "" {
		o.Federation.Google.ClientSecret = v
	}
	if v := os.Getenv("CAMPUS_AUTH_SESSION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			o.Session.Window.Duration = d
		}
	}
}

// LoadOptions decodes a TOML file, applies environment overrides and
// defaults, then validates.
func LoadOptions(path string, envFiles ...string) (*Options, error) {
	o := &Options{}
	if path != "" {
		if _, err := toml.DecodeFile(path, o); err != nil {
			return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to decode auth options").
				WithMetadata(map[string]any{"path": path})
		}
	}
	o.ApplyEnv(envFiles...)
	o.SetDefaults()
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Options) GetSigningKey() string           { return o.Session.SigningKey }
func (o *Options) GetIssuer() string               { return o.Session.Issuer }
func (o *Options) GetAudience() []string           { return o.Session.Audience }
func (o *Options) GetSessionWindow() time.Duration { return o.Session.Window.Duration }
func (o *Options) GetFounderCapacity() int         { return o.Signup.FounderCapacity }
func (o *Options) GetAllocationMaxRetries() int    { return o.Signup.AllocationRetries }
func (o *Options) GetAllocationRetryBase() time.Duration {
	return o.Signup.AllocationRetryBase.Duration
}
func (o *Options) GetEmailLinkCallbackURL() string       { return o.EmailLink.CallbackURL }
func (o *Options) GetEmailLinkHandoffTTL() time.Duration { return o.EmailLink.HandoffTTL.Duration }
func (o *Options) GetAvatarURLTemplate() string          { return o.Signup.AvatarURLTemplate }
func (o *Options) GetFederation() FederationOptions      { return o.Federation }
