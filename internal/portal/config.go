package portal

import (
	"fmt"
	"time"
)

const (
	DefaultLoginURL           = "https://login.aula.dk/auth/login.php"
	DefaultAPIBase            = "https://www.aula.dk/api/v"
	DefaultAPIVersion         = 20
	DefaultLandingURL         = "https://www.aula.dk:443/portal/"
	DefaultMaxRedirects       = 10
	DefaultMaxVersionAttempts = 20
	DefaultHTTPTimeout        = 30 * time.Second
	DefaultSessionMaxAge      = 12 * time.Hour
	DefaultTokenFreshness     = time.Minute
	DefaultActor              = "KONTAKT"

	browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:120.0) Gecko/20100101 Firefox/120.0"
)

var DefaultCredentialFields = []string{"username", "password", "selected-aktoer"}

type Config struct {
	Username string
	Password string

	LoginURL           string
	APIBase            string
	APIVersion         int
	LandingURL         string
	MaxRedirects       int
	MaxVersionAttempts int
	HTTPTimeout        time.Duration
	SessionMaxAge      time.Duration
	TokenFreshness     time.Duration

	// Actor is overlaid on the selected-aktoer input.
	Actor string
	// CredentialFields lists the form inputs eligible for credential overlay.
	CredentialFields []string
}

func (c Config) withDefaults() Config {
	if c.LoginURL == "" {
		c.LoginURL = DefaultLoginURL
	}
	if c.APIBase == "" {
		c.APIBase = DefaultAPIBase
	}
	if c.APIVersion <= 0 {
		c.APIVersion = DefaultAPIVersion
	}
	if c.LandingURL == "" {
		c.LandingURL = DefaultLandingURL
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = DefaultMaxRedirects
	}
	if c.MaxVersionAttempts <= 0 {
		c.MaxVersionAttempts = DefaultMaxVersionAttempts
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.SessionMaxAge <= 0 {
		c.SessionMaxAge = DefaultSessionMaxAge
	}
	if c.TokenFreshness <= 0 {
		c.TokenFreshness = DefaultTokenFreshness
	}
	if c.Actor == "" {
		c.Actor = DefaultActor
	}
	if len(c.CredentialFields) == 0 {
		c.CredentialFields = DefaultCredentialFields
	}
	return c
}

func (c Config) apiURL(version int) string {
	return fmt.Sprintf("%s%d", c.APIBase, version)
}

// credentials maps overlayable input names to the values to submit.
func (c Config) credentials() map[string]string {
	all := map[string]string{
		"username":        c.Username,
		"password":        c.Password,
		"selected-aktoer": c.Actor,
	}
	out := make(map[string]string, len(c.CredentialFields))
	for _, name := range c.CredentialFields {
		if v, ok := all[name]; ok {
			out[name] = v
		}
	}
	return out
}
