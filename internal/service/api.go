package service

import (
	"context"

	"github.com/aulamcp/aula-mcp-server/internal/model"
	"github.com/aulamcp/aula-mcp-server/internal/portal"
)

// PortalAPI is the part of the portal client the data services use.
type PortalAPI interface {
	Call(ctx context.Context, req portal.Request) *model.Envelope
	Profiles() []model.Profile
	GetToken(ctx context.Context, widgetID string, mock bool) (string, error)
}

const (
	methodDailyOverview     = "presence.getDailyOverview"
	methodThreads           = "messaging.getThreads"
	methodMessagesForThread = "messaging.getMessagesForThread"
	methodAlbums            = "gallery.getAlbums"
	methodAlbum             = "gallery.getAlbum"
	methodCalendarEvents    = "calendar.getEventsByProfileIdsAndResourceIds"
)
