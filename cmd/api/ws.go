package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"shipflow/apperr"
	"shipflow/tracking"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = 60 * time.Second
)

// handleTrackSocket upgrades the connection, authorizes the subscription
// once, and streams status events until either side closes. Rejections close
// with 1008 (policy violation) and a readable reason; no data is sent.
func (s *Server) handleTrackSocket(w http.ResponseWriter, r *http.Request) {
	shipmentID := r.PathValue("id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	principal, err := s.authService.VerifyToken(bearerToken(r))
	if err != nil {
		s.closeWithReason(conn, "missing or invalid token")
		return
	}

	sub, err := s.gate.Admit(r.Context(), shipmentID, principal.UserID)
	if err != nil {
		s.closeWithReason(conn, rejectionReason(err))
		return
	}

	go s.writePump(conn, sub)
	s.readPump(conn, sub)
}

// readPump consumes (and discards) client frames so close and error frames
// are noticed promptly. It owns subscription teardown for its connection.
func (s *Server) readPump(conn *websocket.Conn, sub *tracking.Subscription) {
	defer func() {
		s.gate.Release(sub)
		conn.Close()
	}()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains the subscription onto the socket. A failed write marks
// the subscription closed, which the registry treats as a disconnect.
func (s *Server) writePump(conn *websocket.Conn, sub *tracking.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.Close()
		conn.Close()
	}()

	for {
		select {
		case msg := <-sub.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription closed"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (s *Server) closeWithReason(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(writeWait))
	conn.Close()
}

func rejectionReason(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return "shipment not found"
	case apperr.KindAuthorization:
		return "shipment belongs to another user"
	default:
		return "subscription rejected"
	}
}
