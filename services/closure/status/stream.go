// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package status

import (
	"log/slog"
	"net/http"
	"reflect"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const streamWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// stream pushes a Snapshot over a websocket whenever it changes, checking
// every streamInterval. The first snapshot is sent on connect. The stream
// ends when the client goes away or the server shuts down.
func (s *Server) stream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("status stream upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	// Reading is needed to notice a client close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	var last Snapshot
	sent := false
	for {
		snap := s.tracker.Snapshot()
		if !sent || !reflect.DeepEqual(snap, last) {
			_ = ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := ws.WriteJSON(snap); err != nil {
				s.logger.Debug("status stream closed", slog.String("error", err.Error()))
				return
			}
			last, sent = snap, true
		}

		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-s.closing:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
