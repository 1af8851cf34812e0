package ws

import (
	"bytes"
	"context"
	"net/http"

	"github.com/buger/jsonparser"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/masgate/internal/agent"
	"github.com/gosuda/masgate/internal/stream"
)

// Subscriber is the pub/sub surface the hub reads from.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// Hub manages WebSocket connections backed by Redis pub/sub.
type Hub struct {
	pubsub Subscriber
}

// NewHub creates a new WebSocket hub.
func NewHub(pubsub Subscriber) *Hub {
	return &Hub{pubsub: pubsub}
}

// ServeTrace streams the frames of one trace as they are forwarded to the
// client that started it. Each websocket message is one frame payload with
// SSE framing removed; the connection closes after [DONE] or after the
// trace's completed/failed event, whichever comes first.
func (h *Hub) ServeTrace(w http.ResponseWriter, r *http.Request) {
	clientRequestID := chi.URLParam(r, "clientRequestID")
	if clientRequestID == "" {
		http.Error(w, "missing client request id", http.StatusBadRequest)
		return
	}

	h.follow(w, r, agent.TraceChannel(clientRequestID), func(msg []byte) ([]byte, bool) {
		payload := framePayload(msg)
		return payload, string(payload) == stream.DoneMarker || isTraceEnd(payload)
	})
}

// ServeLifecycle streams trace started/finished events for all traces.
func (h *Hub) ServeLifecycle(w http.ResponseWriter, r *http.Request) {
	h.follow(w, r, agent.LifecycleChannel, func(msg []byte) ([]byte, bool) {
		return msg, false
	})
}

// follow relays channel to the websocket. transform returns the message to
// send and whether it is the last one.
func (h *Hub) follow(w http.ResponseWriter, r *http.Request, channel string, transform func([]byte) ([]byte, bool)) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	messages, cleanup, err := h.pubsub.Subscribe(ctx, channel)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg, msgOK := <-messages:
			if !msgOK {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			out, last := transform(msg)
			if writeErr := conn.Write(ctx, websocket.MessageText, out); writeErr != nil {
				log.Debug().Err(writeErr).Msg("websocket write")
				return
			}
			if last {
				_ = conn.Close(websocket.StatusNormalClosure, "stream done")
				return
			}
		}
	}
}

// framePayload strips "data: " and the trailing blank line from an SSE frame.
func framePayload(frame []byte) []byte {
	frame = bytes.TrimSpace(frame)
	frame = bytes.TrimPrefix(frame, []byte("data:"))
	return bytes.TrimSpace(frame)
}

func isTraceEnd(payload []byte) bool {
	typ, err := jsonparser.GetString(payload, "type")
	if err != nil {
		return false
	}
	return typ == agent.EventTraceCompleted || typ == agent.EventTraceFailed
}
