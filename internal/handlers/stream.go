package handlers

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Stream classifies every binary websocket message as one image and answers
// with one JSON text message. A text "ping" is answered with "pong".
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(h.maxUploadBytes)

	log.Printf("stream client connected: %s", r.RemoteAddr)

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("stream read error: %v", err)
			}
			return
		}

		var reply any
		switch mt {
		case websocket.TextMessage:
			if strings.TrimSpace(string(message)) == "ping" {
				if err := conn.WriteMessage(websocket.TextMessage, []byte("pong")); err != nil {
					return
				}
				continue
			}
			reply = ErrorResponse{Error: "send images as binary messages"}
		case websocket.BinaryMessage:
			reply = h.classifyFrame(message)
		default:
			continue
		}

		if err := conn.WriteJSON(reply); err != nil {
			log.Printf("stream write error: %v", err)
			return
		}
	}
}

func (h *Handler) classifyFrame(data []byte) any {
	reqID := uuid.New().String()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	pred, err := h.pipeline.Predict(ctx, data)
	if err != nil {
		log.Printf("[%s] Stream prediction error: %v", reqID, err)
		return newErrorResponse(reqID, err)
	}
	h.record(reqID, "ws", "", pred)
	return newPredictionResponse(reqID, pred)
}
