package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/aulamcp/aula-mcp-server/internal/audit"
	apperrors "github.com/aulamcp/aula-mcp-server/internal/errors"
	"github.com/aulamcp/aula-mcp-server/internal/model"
	"github.com/aulamcp/aula-mcp-server/internal/util"
)

const (
	methodProfilesByLogin = "profiles.getProfilesByLogin"
	methodProfileContext  = "profiles.getProfileContext"

	csrfCookieName = "Csrfp-Token"
)

// Restore loads the cached session and keeps it if the portal still
// accepts it.
func (c *Client) Restore(ctx context.Context) bool {
	c.mu.Lock()
	if c.state == StateLoggingIn {
		c.mu.Unlock()
		return false
	}
	c.state = StateRestoring
	c.mu.Unlock()

	snap, ok := c.store.Load(ctx, c.cfg.SessionMaxAge)
	if !ok {
		c.dropSession(StateUnauthenticated)
		return false
	}

	jar, err := restoreJar(snap.Transport, c.now)
	if err != nil {
		log.Warn().Err(err).Msg("cached transport state unusable")
		c.dropSession(StateUnauthenticated)
		return false
	}

	c.mu.Lock()
	c.installLocked(jar, snap.Session)
	c.mu.Unlock()

	if !c.IsLoggedIn(ctx) {
		log.Info().Msg("cached session no longer accepted by portal")
		c.dropSession(StateUnauthenticated)
		return false
	}

	c.mu.Lock()
	c.state = StateAuthenticated
	children := len(c.session.Children())
	c.mu.Unlock()

	audit.Log(ctx, audit.Event{
		Type:    audit.EventSessionRestored,
		Account: util.MaskUsername(c.cfg.Username),
		Details: map[string]interface{}{"children": children},
	})
	return true
}

// IsLoggedIn probes the portal with the current transport.
func (c *Client) IsLoggedIn(ctx context.Context) bool {
	t := c.currentTransport()
	resp, body, err := fetch(ctx, t.http, http.MethodGet, t.apiURL+"?method="+methodProfilesByLogin, nil, nil)
	if err != nil {
		log.Debug().Err(err).Msg("login probe failed")
		return false
	}
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var env model.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return false
	}
	return env.OK()
}

// Login authenticates unless another login is in flight, in which case it
// returns false immediately. A session the portal still accepts is reused.
func (c *Client) Login(ctx context.Context) (bool, error) {
	return c.login(ctx, true)
}

func (c *Client) login(ctx context.Context, verify bool) (bool, error) {
	done, ok := c.beginLogin()
	if !ok {
		log.Debug().Msg("login already in progress")
		return false, nil
	}

	if verify && c.hasCookies() && c.IsLoggedIn(ctx) {
		c.endLogin(done, true)
		return true, nil
	}

	err := c.directLogin(ctx)
	c.endLogin(done, err == nil)
	if err != nil {
		return false, err
	}
	return true, nil
}

// ForceLogin discards any session, cached or live, and logs in again.
func (c *Client) ForceLogin(ctx context.Context) error {
	done, ok := c.beginLogin()
	if !ok {
		return apperrors.LoginInProgress()
	}

	c.mu.Lock()
	c.resetTransportLocked()
	c.mu.Unlock()
	c.store.Clear(ctx)

	err := c.directLogin(ctx)
	c.endLogin(done, err == nil)
	return err
}

// ClearSession drops the live transport and the cached session.
func (c *Client) ClearSession(ctx context.Context) bool {
	c.dropSession(StateUnauthenticated)
	cleared := c.store.Clear(ctx)

	audit.Log(ctx, audit.Event{
		Type:    audit.EventSessionCleared,
		Account: util.MaskUsername(c.cfg.Username),
		Details: map[string]interface{}{"cache_cleared": cleared},
	})
	return cleared
}

// EnsureAuthenticated returns nil once the client holds a session the
// portal accepts, logging in if needed.
func (c *Client) EnsureAuthenticated(ctx context.Context) error {
	if c.awaitLogin(ctx) && c.State() == StateAuthenticated {
		return nil
	}

	if c.IsLoggedIn(ctx) {
		c.markAuthenticated()
		return nil
	}

	ok, err := c.login(ctx, false)
	if err != nil {
		return err
	}
	if !ok {
		c.awaitLogin(ctx)
		if c.State() != StateAuthenticated {
			return apperrors.LoginInProgress()
		}
	}
	return nil
}

// dropSession resets the transport unless a login owns it.
func (c *Client) dropSession(next State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateLoggingIn {
		return
	}
	c.resetTransportLocked()
	c.state = next
}

// directLogin runs the full login flow on a fresh transport and installs
// it only when every mandatory step succeeded.
func (c *Client) directLogin(ctx context.Context) error {
	account := util.MaskUsername(c.cfg.Username)

	err := c.runLoginFlow(ctx)
	if err != nil {
		audit.Log(ctx, audit.Event{
			Type:    audit.EventLoginFailure,
			Account: account,
			Details: map[string]interface{}{
				"code":  string(apperrors.GetCode(err)),
				"error": err.Error(),
			},
		})
		return err
	}

	c.mu.Lock()
	apiURL := c.session.APIURL
	children := len(c.session.Children())
	c.mu.Unlock()

	audit.Log(ctx, audit.Event{
		Type:    audit.EventLoginSuccess,
		Account: account,
		Details: map[string]interface{}{"api_url": apiURL, "children": children},
	})
	return nil
}

func (c *Client) runLoginFlow(ctx context.Context) error {
	jar := newRecordingJar(c.now)
	hc := c.newHTTPClient(jar)

	entry, err := url.Parse(c.cfg.LoginURL)
	if err != nil {
		return apperrors.LoginFlowChanged("invalid login url").WithCause(err)
	}
	q := entry.Query()
	q.Set("type", "unilogin")
	entry.RawQuery = q.Encode()

	resp, body, err := fetch(ctx, hc, http.MethodGet, entry.String(), nil, browserHeaders("none"))
	if err != nil {
		return apperrors.Transient("login page unreachable", err)
	}

	form := parseLoginForm(body, resp.Request.URL)
	if form.outcome != formFound {
		return apperrors.LoginFlowChanged(form.reason)
	}

	resp, body, err = postForm(ctx, hc, form.action.String(), url.Values{"selectedIdp": {"uni_idp"}})
	if err != nil {
		return apperrors.Transient("identity provider selection failed", err)
	}

	if err := c.submitCredentials(ctx, hc, resp, body); err != nil {
		return err
	}

	apiURL, profiles, err := c.discoverVersion(ctx, hc)
	if err != nil {
		return err
	}

	csrf := jar.cookie(apiURL, csrfCookieName)
	if csrf == "" {
		log.Warn().Msg("portal did not set a CSRF cookie")
	}

	relations, err := fetchRelations(ctx, hc, apiURL)
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch profile context")
	}

	c.mu.Lock()
	c.installLocked(jar, model.Session{
		APIURL:    apiURL,
		Profiles:  profiles,
		Tokens:    map[string]model.Token{},
		CSRFToken: csrf,
	})
	c.relations = relations
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if !c.store.Save(ctx, snap) {
		log.Warn().Msg("logged in but could not cache session")
	}
	return nil
}

// submitCredentials follows the broker's chain of auto-submitting forms,
// overlaying credentials, until the portal landing page is reached.
func (c *Client) submitCredentials(ctx context.Context, hc *http.Client, resp *http.Response, body []byte) error {
	overlay := c.cfg.credentials()

	for attempt := 1; attempt <= c.cfg.MaxRedirects; attempt++ {
		form := parseLoginForm(body, resp.Request.URL)
		if form.outcome != formFound {
			return apperrors.LoginFlowChanged(fmt.Sprintf("%s after %d steps", form.reason, attempt-1))
		}

		var err error
		resp, body, err = postForm(ctx, hc, form.action.String(), form.values(overlay))
		if err != nil {
			return apperrors.Transient("login form submission failed", err)
		}

		if sameURL(resp.Request.URL, c.cfg.LandingURL) {
			log.Debug().Int("steps", attempt).Msg("reached portal landing page")
			return nil
		}
	}
	return apperrors.RedirectLimit(c.cfg.MaxRedirects)
}

// discoverVersion walks API versions upward from the configured one.
func (c *Client) discoverVersion(ctx context.Context, hc *http.Client) (string, []model.Profile, error) {
	version := c.cfg.APIVersion
	for attempt := 0; attempt < c.cfg.MaxVersionAttempts; attempt++ {
		apiURL := c.cfg.apiURL(version)
		resp, body, err := fetch(ctx, hc, http.MethodGet, apiURL+"?method="+methodProfilesByLogin, nil, nil)
		if err != nil {
			return "", nil, apperrors.Transient("version discovery failed", err)
		}

		switch resp.StatusCode {
		case http.StatusGone:
			log.Debug().Int("version", version).Msg("api version retired")
			version++
		case http.StatusForbidden:
			return "", nil, apperrors.InvalidCredentials()
		case http.StatusOK:
			var data struct {
				Profiles []model.Profile `json:"profiles"`
			}
			var env model.Envelope
			if err := json.Unmarshal(body, &env); err != nil {
				return "", nil, apperrors.LoginFlowChanged("profile list is not json").WithCause(err)
			}
			if err := env.Decode(&data); err != nil {
				return "", nil, apperrors.LoginFlowChanged("unreadable profile list").WithCause(err)
			}
			log.Info().Int("version", version).Int("profiles", len(data.Profiles)).Msg("portal api version discovered")
			return apiURL, data.Profiles, nil
		default:
			return "", nil, apperrors.LoginFlowChanged(fmt.Sprintf("unexpected status %d during version discovery", resp.StatusCode))
		}
	}
	return "", nil, apperrors.VersionDiscovery(c.cfg.MaxVersionAttempts)
}

func fetchRelations(ctx context.Context, hc *http.Client, apiURL string) (json.RawMessage, error) {
	_, body, err := fetch(ctx, hc, http.MethodGet, apiURL+"?method="+methodProfileContext+"&portalrole=guardian", nil, nil)
	if err != nil {
		return nil, err
	}

	var env model.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, apperrors.DataShape("profile context", err)
	}
	var data struct {
		InstitutionProfile struct {
			Relations json.RawMessage `json:"relations"`
		} `json:"institutionProfile"`
	}
	if err := env.Decode(&data); err != nil {
		return nil, apperrors.DataShape("profile context", err)
	}
	return data.InstitutionProfile.Relations, nil
}
