package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/aulamcp/aula-mcp-server/internal/errors"
	"github.com/aulamcp/aula-mcp-server/internal/model"
)

const (
	MockToken = "MockToken"

	methodWidgetToken = "aulaToken.getAulaToken"
)

// GetToken returns a bearer token for widgetID. Tokens younger than the
// freshness window are served from the session without a network call.
func (c *Client) GetToken(ctx context.Context, widgetID string, mock bool) (string, error) {
	c.mu.Lock()
	cached, ok := c.session.Tokens[widgetID]
	now := c.now()
	c.mu.Unlock()
	if ok && cached.Fresh(now, c.cfg.TokenFreshness) {
		return cached.Token, nil
	}

	if mock {
		return MockToken, nil
	}

	// An established transport is used as is; the token request itself
	// fails if the portal dropped the session.
	if c.State() != StateAuthenticated || !c.hasCookies() {
		if err := c.EnsureAuthenticated(ctx); err != nil {
			return "", err
		}
	}

	t := c.currentTransport()
	header := http.Header{}
	if t.csrfToken != "" {
		header.Set("csrfp-token", t.csrfToken)
	}
	resp, body, err := fetch(ctx, t.http, http.MethodGet,
		t.apiURL+"?method="+methodWidgetToken+"&widgetId="+widgetID, nil, header)
	if err != nil {
		return "", apperrors.Transient("widget token request failed", err)
	}
	if resp.StatusCode == http.StatusForbidden {
		c.dropSession(StateUnauthenticated)
		return "", apperrors.SessionExpired()
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperrors.External("widget token", fmt.Errorf("status %d", resp.StatusCode))
	}

	var env model.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", apperrors.DataShape("widget token", err)
	}
	var raw string
	if err := env.Decode(&raw); err != nil || raw == "" {
		return "", apperrors.DataShape("widget token", err)
	}

	token := "Bearer " + raw

	c.mu.Lock()
	c.session.Tokens[widgetID] = model.Token{Token: token, Timestamp: c.now()}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if !c.store.Save(ctx, snap) {
		log.Warn().Str("widget_id", widgetID).Msg("token cached in memory only")
	}
	return token, nil
}

// GetWidgets lists the widgets configured for the guardian.
func (c *Client) GetWidgets(ctx context.Context) ([]model.Widget, error) {
	env := c.Call(ctx, NewRequest(methodProfileContext).WithParam("portalrole", "guardian"))
	if !env.OK() {
		return nil, apperrors.External("profile context", fmt.Errorf("status %d", env.Status.Code))
	}

	var data struct {
		PageConfiguration struct {
			WidgetConfigurations []struct {
				Widget struct {
					WidgetID model.FlexID `json:"widgetId"`
					Name     string       `json:"name"`
				} `json:"widget"`
			} `json:"widgetConfigurations"`
		} `json:"pageConfiguration"`
	}
	if err := env.Decode(&data); err != nil {
		return nil, apperrors.DataShape("widget configuration", err)
	}

	widgets := make([]model.Widget, 0, len(data.PageConfiguration.WidgetConfigurations))
	for _, wc := range data.PageConfiguration.WidgetConfigurations {
		widgets = append(widgets, model.Widget{ID: wc.Widget.WidgetID.String(), Name: wc.Widget.Name})
	}
	return widgets, nil
}
