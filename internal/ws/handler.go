package ws

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/VighneshNilajakar/HotPin-WebServer/internal/domain/session"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/logging"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/monitoring"
)

const binaryFrameTimeout = 10 * time.Second

// Handler owns the websocket endpoint: upgrade, admission, the read
// loop, and disconnect cleanup.
type Handler struct {
	upgrader   websocket.Upgrader
	gate       *Gate
	registry   *session.Manager
	controller *Controller
	logger     *logging.Logger
	metrics    *monitoring.Metrics
}

// NewHandler builds the websocket endpoint handler.
func NewHandler(gate *Gate, registry *session.Manager, controller *Controller, logger *logging.Logger, metrics *monitoring.Metrics) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// The device is a headless client; origin checks do not apply.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		gate:       gate,
		registry:   registry,
		controller: controller,
		logger:     logger,
		metrics:    metrics,
	}
}

// Serve is the gin handler for GET /ws.
func (h *Handler) Serve(c *gin.Context) {
	sessionID := c.Query("session")
	token := c.Query("token")
	authHeader := c.GetHeader("Authorization")

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	conn := newConn(ws)

	if err := h.gate.Admit(conn, sessionID, token, authHeader); err != nil {
		var rej *Rejection
		if errors.As(err, &rej) {
			conn.CloseWithCode(rej.Code, rej.Reason)
		} else {
			conn.Close()
		}
		return
	}
	defer h.gate.Release(sessionID)

	s, err := h.registry.GetOrCreate(sessionID)
	if err != nil {
		h.logger.Error("session registry error",
			zap.String("session_id", sessionID), zap.Error(err))
		conn.CloseWithCode(websocket.CloseInternalServerErr, "session unavailable")
		return
	}
	h.registry.UpdateState(s, session.StateConnected)

	if err := conn.SendJSON(NewReady()); err != nil {
		h.logger.Warn("failed to send ready",
			zap.String("session_id", sessionID), zap.Error(err))
		conn.Close()
		h.onDisconnect(s, conn)
		return
	}
	h.metrics.RecordWSMessage("out", "ready")
	h.logger.Info("session connected", zap.String("session_id", sessionID))

	h.readLoop(c, s, conn)
	h.onDisconnect(s, conn)
}

func (h *Handler) readLoop(c *gin.Context, s *session.Session, conn *Conn) {
	ctx := c.Request.Context()
	for {
		mt, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("read error",
					zap.String("session_id", s.ID), zap.Error(err))
			}
			return
		}

		if mt != websocket.TextMessage {
			// Binary frames are only legal immediately after a chunk
			// meta, where the controller borrows the read.
			conn.SendJSON(NewErrorCode("protocol", "binary frame without preceding chunk meta"))
			continue
		}

		msg, err := Decode(data)
		if err != nil {
			conn.SendJSON(NewError(err.Error()))
			continue
		}

		h.controller.Handle(ctx, s, conn, msg, h.lendBinaryRead(conn))
	}
}

// lendBinaryRead hands the controller a one-shot read of the next frame,
// which must be binary.
func (h *Handler) lendBinaryRead(conn *Conn) binaryReader {
	return func() ([]byte, error) {
		conn.ws.SetReadDeadline(time.Now().Add(binaryFrameTimeout))
		defer conn.ws.SetReadDeadline(time.Time{})

		mt, data, err := conn.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.BinaryMessage {
			return nil, fmt.Errorf("expected binary frame, got message type %d", mt)
		}
		return data, nil
	}
}

func (h *Handler) onDisconnect(s *session.Session, conn *Conn) {
	conn.Suppress()
	h.controller.HandleDisconnect(s)
	h.logger.Info("session disconnected", zap.String("session_id", s.ID))
}
