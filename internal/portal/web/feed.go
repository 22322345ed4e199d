package web

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/patientdoc/portal/internal/platform/websocket"
	"github.com/patientdoc/portal/internal/portal/session"
)

const snapshotEvent = "session.snapshot"

// Feed upgrades to a websocket that receives the caller's snapshot now and
// after every change, until the browser disconnects.
func (h *Handler) Feed(c echo.Context) error {
	ctx := c.Request().Context()
	r := session.ResolverFromContext(ctx)
	id := session.IDFromContext(ctx)
	if r == nil || id == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "no portal session")
	}
	path := c.QueryParam("path")

	changed := r.Updated()
	first, err := websocket.NewEvent(snapshotEvent, id, viewOf(r.Snapshot(), path))
	if err != nil {
		return err
	}
	client, err := h.opts.Upgrader.Connect(c, id, &first)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade")
		return nil
	}

	go h.follow(r, id, path, client, changed)
	return nil
}

// follow sends a snapshot event for each change of r until client closes.
// changed must be taken before the snapshot the client already has.
func (h *Handler) follow(r *session.Resolver, id, path string, client *websocket.Client, changed <-chan struct{}) {
	for {
		select {
		case <-client.Done():
			return
		case <-changed:
		}
		changed = r.Updated()
		ev, err := websocket.NewEvent(snapshotEvent, id, viewOf(r.Snapshot(), path))
		if err != nil {
			h.logger.Error().Err(err).Msg("encode snapshot event")
			continue
		}
		if err := h.opts.Hub.Send(client, ev); err != nil {
			h.logger.Warn().Err(err).Msg("send snapshot event")
		}
	}
}
