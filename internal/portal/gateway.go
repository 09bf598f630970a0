package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/aulamcp/aula-mcp-server/internal/audit"
	"github.com/aulamcp/aula-mcp-server/internal/model"
	"github.com/aulamcp/aula-mcp-server/internal/util"
)

const DefaultMaxRetries = 1

// Request describes one call to the portal API. Build it with NewRequest.
type Request struct {
	Method     string
	Params     url.Values
	Body       any
	MaxRetries int
}

func NewRequest(method string) Request {
	return Request{Method: method, Params: url.Values{}, MaxRetries: DefaultMaxRetries}
}

func (r Request) WithParam(key, value string) Request {
	r.Params = cloneValues(r.Params)
	r.Params.Add(key, value)
	return r
}

// WithBody turns the call into a JSON POST.
func (r Request) WithBody(body any) Request {
	r.Body = body
	return r
}

func (r Request) WithMaxRetries(n int) Request {
	if n < 0 {
		n = 0
	}
	r.MaxRetries = n
	return r
}

func (r Request) query() string {
	q := cloneValues(r.Params)
	q.Set("method", r.Method)
	return q.Encode()
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// Call sends req and always returns an envelope. Failures that leave no
// usable portal response come back as a synthetic error envelope carrying
// an HTTP-like status code. A 403 from the portal triggers one re-login
// per remaining retry.
func (c *Client) Call(ctx context.Context, req Request) *model.Envelope {
	if err := c.EnsureAuthenticated(ctx); err != nil {
		log.Warn().Err(err).Str("method", req.Method).Msg("not authenticated")
		return model.ErrorEnvelope(http.StatusUnauthorized)
	}

	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = json.Marshal(req.Body)
		if err != nil {
			log.Error().Err(err).Str("method", req.Method).Msg("failed to encode request body")
			return model.ErrorEnvelope(http.StatusInternalServerError)
		}
	}

	lastCode := http.StatusInternalServerError
	for attempt := 0; attempt <= req.MaxRetries; attempt++ {
		t := c.currentTransport()
		resp, body, err := c.send(ctx, t, req, payload)
		if err != nil {
			if ctx.Err() != nil {
				return model.ErrorEnvelope(http.StatusInternalServerError)
			}
			log.Warn().Err(err).Str("method", req.Method).Int("attempt", attempt).Msg("portal call failed")
			lastCode = http.StatusInternalServerError
			continue
		}

		switch {
		case resp.StatusCode == http.StatusForbidden:
			lastCode = http.StatusForbidden
			if attempt < req.MaxRetries {
				c.relogin(ctx, t.gen)
			}
			continue
		case resp.StatusCode >= http.StatusInternalServerError:
			log.Warn().Int("status", resp.StatusCode).Str("method", req.Method).Msg("portal server error")
			lastCode = resp.StatusCode
			continue
		}

		var env model.Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			log.Warn().Err(err).Str("method", req.Method).Int("status", resp.StatusCode).Msg("portal returned non-json body")
			return model.ErrorEnvelope(http.StatusInternalServerError)
		}

		if env.Status.Code == http.StatusForbidden {
			lastCode = http.StatusForbidden
			if attempt < req.MaxRetries {
				c.relogin(ctx, t.gen)
			}
			continue
		}
		return &env
	}

	log.Warn().Str("method", req.Method).Int("code", lastCode).Msg("portal call exhausted retries")
	return model.ErrorEnvelope(lastCode)
}

func (c *Client) send(ctx context.Context, t transport, req Request, payload []byte) (*http.Response, []byte, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")
	if t.csrfToken != "" {
		header.Set("csrfp-token", t.csrfToken)
	}

	method := http.MethodGet
	var body io.Reader
	if payload != nil {
		method = http.MethodPost
		body = bytes.NewReader(payload)
		header.Set("Content-Type", "application/json")
	}

	return fetch(ctx, t.http, method, t.apiURL+"?"+req.query(), body, header)
}

// relogin replaces the session seen at generation gen. Concurrent callers
// that observed the same generation share one login.
func (c *Client) relogin(ctx context.Context, gen uint64) {
	if c.awaitLogin(ctx) {
		return
	}

	c.mu.Lock()
	if c.gen != gen || c.state == StateLoggingIn {
		c.mu.Unlock()
		c.awaitLogin(ctx)
		return
	}
	c.state = StateLoggingIn
	done := make(chan struct{})
	c.loginDone = done
	c.resetTransportLocked()
	c.mu.Unlock()

	audit.Log(ctx, audit.Event{
		Type:    audit.EventSessionExpired,
		Account: util.MaskUsername(c.cfg.Username),
	})
	c.store.Clear(ctx)

	err := c.directLogin(ctx)
	if err != nil {
		log.Error().Err(err).Msg("re-login after 403 failed")
	}
	c.endLogin(done, err == nil)
}
