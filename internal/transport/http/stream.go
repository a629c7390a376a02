// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingPeriod   = 30 * time.Second
	wsReadLimit    = 512
)

var errInvalidSince = errors.New("invalid since")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// parseSince reads the optional ?since= cursor. Views with a larger sequence
// number are streamed.
func parseSince(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("since"))
	if raw == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 0 {
		return 0, errInvalidSince
	}
	return seq, nil
}

func streamEventsSSE(events EventReader, interval time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cursor, err := parseSince(r)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		writeEvents := func() error {
			for _, ev := range events.EventsAfter(cursor) {
				payload, err := json.Marshal(ev)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(w, "id: %d\nevent: processed\ndata: %s\n\n", ev.Seq, payload); err != nil {
					return err
				}
				flusher.Flush()
				cursor = ev.Seq
			}
			return nil
		}

		if err := writeEvents(); err != nil {
			logger.Error("sse initial write failed", "error", err)
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if err := writeEvents(); err != nil {
					logger.Debug("sse write failed", "cursor", cursor, "error", err)
					return
				}
			}
		}
	}
}

func streamEventsWS(events EventReader, interval time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cursor, err := parseSince(r)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		// The feed is one-way; reading only detects the peer going away.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			conn.SetReadLimit(wsReadLimit)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		writeEvents := func() error {
			for _, ev := range events.EventsAfter(cursor) {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(ev); err != nil {
					return err
				}
				cursor = ev.Seq
			}
			return nil
		}

		if err := writeEvents(); err != nil {
			logger.Debug("websocket initial write failed", "error", err)
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()

		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if err := writeEvents(); err != nil {
					logger.Debug("websocket write failed", "cursor", cursor, "error", err)
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			}
		}
	}
}
