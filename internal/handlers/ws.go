package handlers

import (
	"context"
	"encoding/json"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"atomic-guide-cac/internal/errs"
)

// wsSink adapts a *websocket.Conn into an actor.StreamSink, matching it
// by pointer identity so AttachStream/DetachStream pairs never race
// against a reconnect.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) PushChunk(chunk string) error {
	return s.conn.WriteJSON(fiber.Map{"type": "chunk", "text": chunk})
}

// StreamUpgrade gates the WS route behind the standard Fiber upgrade
// check, matching the teacher's own websocket-route convention.
func StreamUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("cac_principal_ws", c.Locals(principalLocalsKey))
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

type wsInbound struct {
	Text           string `json:"text"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
	Action         string `json:"action"`
}

// Stream handles the WebSocket surface of §4.9 for
// /sessions/:id/stream: one connection per client, forwarding
// incremental AI tokens as they're generated and the final committed
// Session (or error) once the turn lands.
//
// Every inbound frame is processed through the same SessionActor used
// by the REST handlers, so a WS turn and a concurrent REST turn for the
// same session still serialize correctly.
func (h *Handler) Stream(c *websocket.Conn) {
	sessionID := c.Params("id")
	principal, _ := c.Locals(principalLocalsKey).(Principal)

	sink := &wsSink{conn: c}
	sessionActor := h.actors.Get(sessionID)
	sessionActor.AttachStream(sink)
	defer sessionActor.DetachStream(sink)

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			return
		}

		var in wsInbound
		if jsonErr := json.Unmarshal(raw, &in); jsonErr != nil {
			_ = c.WriteJSON(fiber.Map{"type": "error", "message": "invalid frame"})
			continue
		}

		result, procErr := h.handleStreamFrame(sessionActor, sink, principal, sessionID, in)
		if procErr != nil {
			kind, _ := errs.KindOf(procErr)
			_ = c.WriteJSON(fiber.Map{"type": "error", "error": string(kind), "message": procErr.Error()})
			continue
		}
		_ = c.WriteJSON(fiber.Map{"type": "session", "session": result})
	}
}

func (h *Handler) handleStreamFrame(sessionActor interface {
	Do(func() error) error
}, sink *wsSink, principal Principal, sessionID string, in wsInbound) (any, error) {
	ctx := context.Background()
	var result any
	err := sessionActor.Do(func() error {
		current, loadErr := h.engine.GetSession(ctx, sessionID)
		if loadErr != nil {
			return loadErr
		}
		if !authorizeSessionAccess(principal, current.StudentRef, current.CourseRef, true) {
			return errs.New(errs.Forbidden, "not authorized for this session")
		}

		if in.Action == "retry" {
			session, retryErr := h.engine.RetryLastAIStreaming(ctx, sessionID, func(chunk string) {
				_ = sink.PushChunk(chunk)
			})
			result = session
			return retryErr
		}

		session, procErr := h.engine.ProcessResponseStreaming(ctx, sessionID, in.Text, in.ResponseTimeMs, func(chunk string) {
			_ = sink.PushChunk(chunk)
		})
		result = session
		return procErr
	})
	return result, err
}
