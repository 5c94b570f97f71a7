package http

import (
	"encoding/json"
	"log"
	"net/http"

	"exam-session-service/internal/app"
	"exam-session-service/internal/domain"

	"github.com/gorilla/websocket"
)

// WSHandler keeps one socket open per in-progress attempt so exam clients
// can poll status and submit without re-dialing. Everything is
// client-driven: the server never pushes expiry, it only answers.
type WSHandler struct {
	service  *app.SessionService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.SessionService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type submitPayload struct {
	Answers     []domain.Answer `json:"answers"`
	TimeExpired bool            `json:"timeExpired"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and serves status/submit/end messages for a
// single session until the client disconnects.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	userID := r.URL.Query().Get("userId")
	if sessionID == "" || userID == "" {
		http.Error(w, "missing sessionId or userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Greet with the current clock state so clients can render immediately.
	status, err := h.service.Status(r.Context(), sessionID)
	if err != nil {
		h.writeError(conn, err)
		return
	}
	if err := conn.WriteJSON(outboundMessage[app.StatusResult]{Type: "status", Payload: status}); err != nil {
		return
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case "status":
			status, err := h.service.Status(r.Context(), sessionID)
			if err != nil {
				h.writeError(conn, err)
				continue
			}
			if err := conn.WriteJSON(outboundMessage[app.StatusResult]{Type: "status", Payload: status}); err != nil {
				return
			}
		case "submit":
			var payload submitPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				h.writeError(conn, domain.ErrInvalidAnswer)
				continue
			}
			result, err := h.service.Submit(r.Context(), sessionID, payload.Answers, payload.TimeExpired)
			if err != nil {
				h.writeError(conn, err)
				continue
			}
			if err := conn.WriteJSON(outboundMessage[app.SubmitResult]{Type: "result", Payload: result}); err != nil {
				return
			}
		case "end":
			if err := h.service.End(r.Context(), sessionID, userID); err != nil {
				h.writeError(conn, err)
				continue
			}
			_ = conn.WriteJSON(outboundMessage[struct{}]{Type: "ended"})
			return
		default:
			_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}
}

func (h *WSHandler) writeError(conn *websocket.Conn, err error) {
	_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
}
