package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/aulamcp/aula-mcp-server/internal/errors"
	"github.com/aulamcp/aula-mcp-server/internal/model"
	"github.com/aulamcp/aula-mcp-server/internal/portal"
)

const (
	DefaultSummaryTTL   = 15 * time.Minute
	DefaultCalendarDays = 14

	maxMessageThreads   = 5
	summaryGalleryLimit = 5
)

type AggregatorOption func(*Aggregator)

func WithSummaryTTL(ttl time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

func WithCalendarDays(days int) AggregatorOption {
	return func(a *Aggregator) {
		if days > 0 {
			a.calendarDays = days
		}
	}
}

func WithAggregatorClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		a.now = now
	}
}

// Aggregator builds and caches the combined view of children, presence,
// messages, gallery and calendar. Rebuilds are serialized.
type Aggregator struct {
	api          PortalAPI
	calendar     *CalendarService
	now          func() time.Time
	ttl          time.Duration
	calendarDays int

	mu          sync.Mutex
	built       bool
	lastUpdated time.Time
	children    []model.Child
	presence    map[string]model.PresenceResult
	messages    model.MessagesResult
	gallery     []model.Picture
	events      map[string][]model.FormattedEvent
}

func NewAggregator(api PortalAPI, calendar *CalendarService, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		api:          api,
		calendar:     calendar,
		now:          time.Now,
		ttl:          DefaultSummaryTTL,
		calendarDays: DefaultCalendarDays,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetSummary returns the cached summary, rebuilding it first when forced,
// when none exists yet, or when it is older than the TTL.
func (a *Aggregator) GetSummary(ctx context.Context, force bool) (*model.Summary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	age := a.now().Sub(a.lastUpdated)
	if force || !a.built || age > a.ttl {
		log.Info().Bool("force", force).Dur("age", age).Msg("rebuilding summary")
		if err := a.rebuildLocked(ctx); err != nil {
			return nil, err
		}
	} else {
		log.Debug().Dur("age", age).Msg("serving cached summary")
	}

	summary := &model.Summary{
		Children:    childInfos(a.children),
		Messages:    a.messages,
		Presence:    make(map[string]model.PresenceResult, len(a.presence)),
		Calendar:    make(map[string][]model.FormattedEvent, len(a.events)),
		Gallery:     firstPictures(a.gallery, summaryGalleryLimit),
		LastUpdated: a.lastUpdated,
	}
	for id, p := range a.presence {
		summary.Presence[id] = p
	}
	for id, evs := range a.events {
		summary.Calendar[id] = evs
	}
	return summary, nil
}

// RefreshData forces a full rebuild.
func (a *Aggregator) RefreshData(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rebuildLocked(ctx)
}

func (a *Aggregator) GetChildren(ctx context.Context) ([]model.ChildInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensureBuiltLocked(ctx); err != nil {
		return nil, err
	}
	return childInfos(a.children), nil
}

func (a *Aggregator) GetChildByID(ctx context.Context, childID string) (*model.ChildInfo, error) {
	children, err := a.GetChildren(ctx)
	if err != nil {
		return nil, err
	}
	for i := range children {
		if children[i].ID.String() == strings.TrimSpace(childID) {
			return &children[i], nil
		}
	}
	return nil, apperrors.NotFound("Child with ID " + childID)
}

func (a *Aggregator) GetUnreadMessages(ctx context.Context) (model.MessagesResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensureBuiltLocked(ctx); err != nil {
		return model.MessagesResult{}, err
	}
	return a.messages, nil
}

// GetPresenceData reports presence for childID. Unknown children have none.
func (a *Aggregator) GetPresenceData(ctx context.Context, childID string) (model.PresenceResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensureBuiltLocked(ctx); err != nil {
		return model.PresenceResult{}, err
	}
	if p, ok := a.presence[strings.TrimSpace(childID)]; ok {
		return p, nil
	}
	return model.PresenceResult{Overview: json.RawMessage("{}")}, nil
}

// GetGalleryItems returns the newest limit pictures.
func (a *Aggregator) GetGalleryItems(ctx context.Context, limit int) ([]model.Picture, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensureBuiltLocked(ctx); err != nil {
		return nil, err
	}
	return firstPictures(a.gallery, limit), nil
}

func (a *Aggregator) ensureBuiltLocked(ctx context.Context) error {
	if a.built {
		return nil
	}
	return a.rebuildLocked(ctx)
}

// rebuildLocked refetches every part in a fixed order. Each part degrades
// on its own; only cancellation aborts the rebuild.
func (a *Aggregator) rebuildLocked(ctx context.Context) error {
	started := a.now()

	a.children = childrenOf(a.api.Profiles())
	if len(a.children) == 0 {
		log.Warn().Msg("no children found in session profiles")
	}

	a.presence = a.fetchPresence(ctx)
	a.messages = a.fetchMessages(ctx)
	a.gallery = a.fetchGallery(ctx)
	a.events = a.fetchCalendar(ctx, started)

	if err := ctx.Err(); err != nil {
		return err
	}

	a.built = true
	a.lastUpdated = started

	log.Info().
		Int("children", len(a.children)).
		Int("messages", len(a.messages.Messages)).
		Int("unread", a.messages.Count).
		Int("pictures", len(a.gallery)).
		Dur("elapsed", a.now().Sub(started)).
		Msg("summary rebuilt")
	return nil
}

func (a *Aggregator) fetchPresence(ctx context.Context) map[string]model.PresenceResult {
	out := make(map[string]model.PresenceResult, len(a.children))
	for _, child := range a.children {
		id := child.ID.String()
		out[id] = model.PresenceResult{Overview: json.RawMessage("{}")}

		env := a.api.Call(ctx, portal.NewRequest(methodDailyOverview).WithParam("childIds[]", id))
		if !env.OK() {
			log.Debug().Str("child_id", id).Int("code", env.Status.Code).Msg("no presence data")
			continue
		}

		var overviews []json.RawMessage
		if err := env.Decode(&overviews); err != nil {
			log.Error().Err(err).Str("child_id", id).Msg("unexpected presence payload")
			continue
		}
		if len(overviews) == 0 {
			continue
		}
		out[id] = model.PresenceResult{HasPresence: true, Overview: overviews[0]}
	}
	return out
}

func (a *Aggregator) fetchMessages(ctx context.Context) model.MessagesResult {
	result := model.MessagesResult{Messages: []model.MessageEntry{}}

	env := a.api.Call(ctx, portal.NewRequest(methodThreads).
		WithParam("sortOn", "date").
		WithParam("orderDirection", "desc").
		WithParam("page", "0"))
	if !env.OK() {
		log.Error().Int("code", env.Status.Code).Msg("failed to fetch message threads")
		return result
	}

	var list model.ThreadList
	if err := env.Decode(&list); err != nil {
		log.Error().Err(err).Msg("unexpected thread list payload")
		return result
	}

	for _, thread := range list.Threads {
		if len(result.Messages) >= maxMessageThreads {
			break
		}
		entry, ok := a.fetchThread(ctx, thread)
		if !ok {
			continue
		}
		if entry.IsUnread {
			result.Count++
		}
		result.Messages = append(result.Messages, entry)
	}
	return result
}

// fetchThread returns the newest regular message of thread. A 403 marks
// the thread as sensitive without triggering a re-login.
func (a *Aggregator) fetchThread(ctx context.Context, thread model.Thread) (model.MessageEntry, bool) {
	env := a.api.Call(ctx, portal.NewRequest(methodMessagesForThread).
		WithParam("threadId", thread.ID.String()).
		WithParam("page", "0").
		WithMaxRetries(0))

	if env.Status.Code == http.StatusForbidden {
		return model.MessageEntry{
			Kind:          model.MessageKindSensitive,
			ThreadID:      thread.ID,
			Subject:       model.SensitiveSubject,
			Text:          model.SensitiveText,
			Sender:        model.UnknownSender,
			IsUnread:      thread.Unread(),
			RequiresMitID: true,
		}, true
	}

	var data model.ThreadMessages
	if err := env.Decode(&data); err != nil {
		log.Debug().Err(err).Str("thread_id", thread.ID.String()).Msg("thread has no readable messages")
		return model.MessageEntry{}, false
	}

	for _, raw := range data.Messages {
		var head struct {
			MessageType string `json:"messageType"`
		}
		if json.Unmarshal(raw, &head) != nil || head.MessageType != model.MessageTypeMessage {
			continue
		}

		entry := model.MessageEntry{
			ThreadID: thread.ID,
			Subject:  data.Subject,
			IsUnread: thread.Unread(),
		}

		var msg model.Message
		err := json.Unmarshal(raw, &msg)
		if err == nil {
			err = msg.Validate()
		}
		if err != nil {
			log.Error().Err(err).Str("thread_id", thread.ID.String()).Msg("message failed validation")
			entry.Kind = model.MessageKindParseFailed
			entry.Text, entry.Sender = fallbackMessageFields(raw)
			return entry, true
		}

		entry.Kind = model.MessageKindFull
		entry.Text = msg.Text.HTML
		entry.Sender = msg.Sender.FullName
		entry.Message = &msg
		return entry, true
	}
	return model.MessageEntry{}, false
}

// fallbackMessageFields pulls text and sender from a message that did not
// validate, tolerating either text shape.
func fallbackMessageFields(raw json.RawMessage) (string, string) {
	var loose struct {
		Text   json.RawMessage `json:"text"`
		Sender struct {
			FullName string `json:"fullName"`
		} `json:"sender"`
	}
	_ = json.Unmarshal(raw, &loose)

	text := "intet indhold..."
	var mt model.MessageText
	if len(loose.Text) > 0 && json.Unmarshal(loose.Text, &mt) == nil {
		text = mt.HTML
	}

	sender := loose.Sender.FullName
	if sender == "" {
		sender = model.UnknownSender
	}
	return text, sender
}

func (a *Aggregator) fetchGallery(ctx context.Context) []model.Picture {
	pictures := []model.Picture{}
	if len(a.children) == 0 {
		return pictures
	}

	ids := make([]string, 0, len(a.children))
	for _, child := range a.children {
		ids = append(ids, child.ID.String())
	}

	env := a.api.Call(ctx, portal.NewRequest(methodAlbums).
		WithParam("institutionProfileIds", strings.Join(ids, ",")).
		WithParam("page", "0"))
	if !env.OK() {
		log.Warn().Int("code", env.Status.Code).Msg("failed to fetch gallery albums")
		return pictures
	}

	var albums []model.Album
	if err := env.Decode(&albums); err != nil {
		log.Error().Err(err).Msg("unexpected album list payload")
		return pictures
	}

	for _, album := range albums {
		albumEnv := a.api.Call(ctx, portal.NewRequest(methodAlbum).WithParam("id", album.ID.String()))
		if !albumEnv.OK() {
			continue
		}
		var detail model.Album
		if err := albumEnv.Decode(&detail); err != nil {
			log.Error().Err(err).Str("album_id", album.ID.String()).Msg("unexpected album payload")
			continue
		}
		pictures = append(pictures, detail.Pictures...)
	}

	sort.SliceStable(pictures, func(i, j int) bool {
		return pictures[i].Created > pictures[j].Created
	})
	return pictures
}

func (a *Aggregator) fetchCalendar(ctx context.Context, from time.Time) map[string][]model.FormattedEvent {
	out := make(map[string][]model.FormattedEvent, len(a.children))
	if a.calendar == nil {
		return out
	}

	a.calendar.Invalidate()
	for _, child := range a.children {
		id := child.ID.String()
		events, err := a.calendar.GetEventsForChild(ctx, id, from, time.Time{}, a.calendarDays)
		if err != nil {
			log.Error().Err(err).Str("child_id", id).Msg("failed to fetch calendar")
			events = []model.FormattedEvent{}
		}
		out[id] = events
	}
	return out
}

func childrenOf(profiles []model.Profile) []model.Child {
	return model.Session{Profiles: profiles}.Children()
}

func childInfos(children []model.Child) []model.ChildInfo {
	out := make([]model.ChildInfo, 0, len(children))
	for _, c := range children {
		out = append(out, model.ChildInfo{
			ID:              c.ID,
			Name:            c.Name,
			UserID:          c.UserID,
			InstitutionName: c.InstitutionName(),
			InstitutionCode: c.InstitutionCode(),
		})
	}
	return out
}

func firstPictures(pictures []model.Picture, limit int) []model.Picture {
	if limit < 0 {
		limit = 0
	}
	if limit > len(pictures) {
		limit = len(pictures)
	}
	return append([]model.Picture{}, pictures[:limit]...)
}
