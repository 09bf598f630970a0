package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/aulamcp/aula-mcp-server/internal/errors"
	"github.com/aulamcp/aula-mcp-server/internal/model"
)

const (
	WeeklyPlanWidgetID      = "0029"
	DefaultMinUddannelseAPI = "https://api.minuddannelse.net/aula"
)

type WeeklyPlanConfig struct {
	BaseURL     string
	Guardian    string
	MockTokens  bool
	HTTPTimeout time.Duration
}

// WeeklyPlanService reads the weekly letters published through the
// MinUddannelse widget.
type WeeklyPlanService struct {
	api  PortalAPI
	cfg  WeeklyPlanConfig
	http *http.Client
	now  func() time.Time
}

func NewWeeklyPlanService(api PortalAPI, cfg WeeklyPlanConfig) *WeeklyPlanService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultMinUddannelseAPI
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	return &WeeklyPlanService{
		api:  api,
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.HTTPTimeout},
		now:  time.Now,
	}
}

// ISOWeek formats t as 2006-W01.
func ISOWeek(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// GetWeeklyPlan fetches the plan for week (2006-W01, default current week)
// for the given children, or all children when childIDs is empty.
func (s *WeeklyPlanService) GetWeeklyPlan(ctx context.Context, childIDs []string, week string) (json.RawMessage, error) {
	if week == "" {
		week = ISOWeek(s.now())
	}

	userIDs, err := s.resolveUserIDs(childIDs)
	if err != nil {
		return nil, err
	}

	token, err := s.api.GetToken(ctx, WeeklyPlanWidgetID, s.cfg.MockTokens)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("assuranceLevel", "2")
	q.Set("childFilter", strings.Join(userIDs, ","))
	q.Set("currentWeekNumber", week)
	q.Set("isMobileApp", "false")
	q.Set("placement", "narrow")
	q.Set("sessionUUID", s.cfg.Guardian)
	q.Set("userProfile", "guardian")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(s.cfg.BaseURL, "/")+"/ugebrev?"+q.Encode(), nil)
	if err != nil {
		return nil, apperrors.Internal("build weekly plan request").WithCause(err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, apperrors.Transient("weekly plan request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, apperrors.Transient("read weekly plan", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.External("minuddannelse", fmt.Errorf("status %d", resp.StatusCode))
	}
	if !json.Valid(body) {
		return nil, apperrors.DataShape("weekly plan", fmt.Errorf("response is not json"))
	}

	log.Debug().Str("week", week).Int("children", len(userIDs)).Msg("weekly plan fetched")
	return json.RawMessage(body), nil
}

func (s *WeeklyPlanService) resolveUserIDs(childIDs []string) ([]string, error) {
	children := childrenOf(s.api.Profiles())
	if len(childIDs) == 0 {
		ids := make([]string, 0, len(children))
		for _, c := range children {
			if c.UserID != "" {
				ids = append(ids, c.UserID.String())
			}
		}
		if len(ids) == 0 {
			return nil, apperrors.NotFound("Children with user ids")
		}
		return ids, nil
	}

	byID := make(map[string]model.Child, len(children))
	for _, c := range children {
		byID[c.ID.String()] = c
	}
	ids := make([]string, 0, len(childIDs))
	for _, id := range childIDs {
		c, ok := byID[strings.TrimSpace(id)]
		if !ok {
			return nil, apperrors.NotFound("Child with ID " + id)
		}
		if c.UserID == "" {
			return nil, apperrors.InvalidInput("child_ids", "child "+id+" has no user id")
		}
		ids = append(ids, c.UserID.String())
	}
	return ids, nil
}
