// Package portal talks to the Aula guardian portal: it owns the login flow,
// the authenticated HTTP transport and the session state machine, and
// exposes a resilient call gateway on top of them.
package portal

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/aulamcp/aula-mcp-server/internal/model"
)

// SessionStore persists snapshots between runs. Implementations report
// failures as false or absent.
type SessionStore interface {
	Save(ctx context.Context, snap *model.Snapshot) bool
	Load(ctx context.Context, maxAge time.Duration) (*model.Snapshot, bool)
	Clear(ctx context.Context) bool
}

type Option func(*Client)

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

type Client struct {
	cfg   Config
	store SessionStore
	now   func() time.Time

	mu        sync.Mutex
	state     State
	gen       uint64
	loginDone chan struct{}
	jar       *recordingJar
	http      *http.Client
	session   model.Session
	relations json.RawMessage
}

func NewClient(cfg Config, store SessionStore, opts ...Option) *Client {
	c := &Client{
		cfg:   cfg.withDefaults(),
		store: store,
		now:   time.Now,
		state: StateNoSession,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.resetTransportLocked()
	return c
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Profiles returns the profiles discovered by the last login or restore.
func (c *Client) Profiles() []model.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Profile(nil), c.session.Profiles...)
}

// Relations returns the guardian's institution relations from the profile
// context, if the last login fetched them.
func (c *Client) Relations() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.relations
}

func (c *Client) APIURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.APIURL
}

func (c *Client) newHTTPClient(jar *recordingJar) *http.Client {
	return &http.Client{
		Jar:     jar,
		Timeout: c.cfg.HTTPTimeout,
	}
}

// resetTransportLocked drops the transport and session fields. Callers hold c.mu.
func (c *Client) resetTransportLocked() {
	c.jar = newRecordingJar(c.now)
	c.http = c.newHTTPClient(c.jar)
	c.session = model.Session{
		APIURL: c.cfg.apiURL(c.cfg.APIVersion),
		Tokens: map[string]model.Token{},
	}
	c.relations = nil
	c.gen++
}

// installLocked swaps in a complete transport and session. Callers hold c.mu.
func (c *Client) installLocked(jar *recordingJar, session model.Session) {
	if session.Tokens == nil {
		session.Tokens = map[string]model.Token{}
	}
	c.jar = jar
	c.http = c.newHTTPClient(jar)
	c.session = session
	c.gen++
}

func (c *Client) snapshotLocked() *model.Snapshot {
	return &model.Snapshot{
		Session:   c.session.Clone(),
		Transport: c.jar.export(),
	}
}

type transport struct {
	http      *http.Client
	apiURL    string
	csrfToken string
	gen       uint64
}

func (c *Client) currentTransport() transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return transport{
		http:      c.http,
		apiURL:    c.session.APIURL,
		csrfToken: c.session.CSRFToken,
		gen:       c.gen,
	}
}

func (c *Client) hasCookies() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jar.size() > 0
}

// beginLogin moves to LoggingIn unless a login is already running.
func (c *Client) beginLogin() (chan struct{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateLoggingIn {
		return nil, false
	}
	c.state = StateLoggingIn
	c.loginDone = make(chan struct{})
	return c.loginDone, true
}

func (c *Client) endLogin(done chan struct{}, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.state = StateAuthenticated
	} else {
		c.state = StateUnauthenticated
	}
	close(done)
}

// awaitLogin blocks while a login is in flight and reports whether it waited.
func (c *Client) awaitLogin(ctx context.Context) bool {
	c.mu.Lock()
	if c.state != StateLoggingIn {
		c.mu.Unlock()
		return false
	}
	done := c.loginDone
	c.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
	}
	return true
}

func (c *Client) markAuthenticated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateLoggingIn {
		c.state = StateAuthenticated
	}
}
