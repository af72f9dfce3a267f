package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard-api/state"
)

var streamKeepAlive = 15 * time.Second

// streamBoard pushes the board as server-sent events: once when the board
// is ready and again after every transition. The token may be passed as a
// query parameter since EventSource cannot set headers. Open streams end
// when either the request or shutdown is done.
func streamBoard(boards Boards, auth Authenticator, logger *log.Logger, shutdown context.Context) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(streamAuthHeader(c.Request()))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		session, err := boards.Session(userID)
		if err != nil {
			return c.String(http.StatusServiceUnavailable, err.Error())
		}
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		h := c.Response().Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set(echo.HeaderCacheControl, "no-cache")
		h.Set(echo.HeaderConnection, "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)
		flusher.Flush()

		updates, cancel := session.Subscribe()
		defer cancel()

		entry := logger.WithField("user_id", userID)
		entry.Debug("board stream opened")
		defer entry.Debug("board stream closed")

		ctx := c.Request().Context()
		ticker := time.NewTicker(streamKeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-shutdown.Done():
				return nil
			case <-ticker.C:
				if _, err := c.Response().Write([]byte(": ping\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case snap, ok := <-updates:
				if !ok {
					return nil
				}
				switch snap.Phase {
				case state.PhaseLoading:
					continue
				case state.PhaseFailed:
					msg := "load failed"
					if snap.Err != nil {
						msg = snap.Err.Error()
					}
					_ = writeEvent(c, "error", []byte(msg))
					flusher.Flush()
					return nil
				}
				data, err := sonic.Marshal(snap.Board)
				if err != nil {
					entry.WithError(err).Error("encode board for stream")
					continue
				}
				if err := writeEvent(c, "", data); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

// writeEvent frames data as one SSE event. Every line gets its own data
// field so multi-line payloads such as storage errors arrive intact.
func writeEvent(c echo.Context, event string, data []byte) error {
	var buf strings.Builder
	if event != "" {
		buf.WriteString("event: " + event + "\n")
	}
	for _, line := range strings.Split(string(data), "\n") {
		buf.WriteString("data: ")
		buf.WriteString(strings.TrimSuffix(line, "\r"))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	_, err := c.Response().Write([]byte(buf.String()))
	return err
}
