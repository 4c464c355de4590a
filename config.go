package identity

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

// Default policy values applied by Config.setDefaults.
const (
	DefaultSessionTTL         = 7 * 24 * time.Hour
	DefaultExtendedSessionTTL = 30 * 24 * time.Hour
	DefaultImpersonationTTL   = time.Hour
	DefaultCodeLength         = 6
	DefaultCodeTTL            = 300 * time.Second
	DefaultCodeMaxAttempts    = 3
	DefaultMaxLoginAttempts   = 5
	DefaultLoginCooldown      = 24 * time.Hour
)

// Config holds every policy knob. It is plain data handed to constructors;
// nothing in this package reads ambient process state, so tests can build
// isolated instances with fake stores and clocks.
type Config struct {
	// SigningKey signs the session handle tokens.
	SigningKey string
	Issuer     string
	Audience   []string

	SessionTTL         time.Duration
	ExtendedSessionTTL time.Duration
	// ImpersonationTTL is the short, fixed lifetime of admin-minted
	// sessions, applied regardless of the normal TTL policy.
	ImpersonationTTL time.Duration
	// SlidingSessions renews a session's expiry when it is used past the
	// midpoint of its TTL. Off means fixed expiry.
	SlidingSessions bool

	CodeLength      int
	CodeTTL         time.Duration
	CodeMaxAttempts int

	BcryptCost       int
	MaxLoginAttempts int
	LoginCooldown    time.Duration

	// Permissions overrides the fine-grained grant table. Nil uses
	// DefaultPermissions.
	Permissions PermissionSet
}

func (c *Config) setDefaults() {
	if c.SessionTTL == 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.ExtendedSessionTTL == 0 {
		c.ExtendedSessionTTL = DefaultExtendedSessionTTL
	}
	if c.ImpersonationTTL == 0 {
		c.ImpersonationTTL = DefaultImpersonationTTL
	}
	if c.CodeLength == 0 {
		c.CodeLength = DefaultCodeLength
	}
	if c.CodeTTL == 0 {
		c.CodeTTL = DefaultCodeTTL
	}
	if c.CodeMaxAttempts == 0 {
		c.CodeMaxAttempts = DefaultCodeMaxAttempts
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = DefaultBcryptCost
	}
	if c.MaxLoginAttempts == 0 {
		c.MaxLoginAttempts = DefaultMaxLoginAttempts
	}
	if c.LoginCooldown == 0 {
		c.LoginCooldown = DefaultLoginCooldown
	}
	if c.Permissions == nil {
		c.Permissions = DefaultPermissions()
	}
}

// Validate checks the config after defaults are applied.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.SigningKey, validation.Required, validation.Length(16, 0)),
		validation.Field(&c.SessionTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.ImpersonationTTL, validation.Required, validation.Max(24*time.Hour)),
		validation.Field(&c.CodeLength, validation.Min(4), validation.Max(10)),
		validation.Field(&c.CodeTTL, validation.Min(30*time.Second)),
		validation.Field(&c.CodeMaxAttempts, validation.Min(1), validation.Max(10)),
		validation.Field(&c.BcryptCost, validation.Min(4), validation.Max(31)),
	)
}
