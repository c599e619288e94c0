package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jordancrombie/wsim-sub002/internal/auth"
	"github.com/jordancrombie/wsim-sub002/internal/events"
	"go.uber.org/zap"
)

// WSHub pushes payment and step-up status changes to connected mobile
// clients. Events are routed by the user_id carried in the payload; events
// without one (unbound payment requests) have no audience and are dropped.
type WSHub struct {
	issuer      *auth.TokenIssuer
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[uuid.UUID][]*websocket.Conn
}

func NewWSHub(issuer *auth.TokenIssuer, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		issuer:      issuer,
		subscriber:  subscriber,
		log:         log,
		connections: make(map[uuid.UUID][]*websocket.Conn),
	}
}

func (h *WSHub) Start(ctx context.Context) {
	_ = h.subscriber.Subscribe(ctx, events.StreamPayment, h.route)
	_ = h.subscriber.Subscribe(ctx, events.StreamStepUp, h.route)
}

func (h *WSHub) route(event events.Event) {
	raw, ok := event.Payload["user_id"].(string)
	if !ok {
		return
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return
	}
	h.SendToUser(userID, event)
}

func (h *WSHub) SendToUser(userID uuid.UUID, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.connections[userID] {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	// The browser WebSocket API cannot set headers, so the access token rides
	// in the query string.
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	claims, err := h.issuer.Parse(tokenStr, auth.TokenTypeAccess)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	userID := claims.UserID

	h.mu.Lock()
	h.connections[userID] = append(h.connections[userID], conn)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		conns := h.connections[userID]
		for i, c := range conns {
			if c == conn {
				h.connections[userID] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(h.connections[userID]) == 0 {
			delete(h.connections, userID)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// Read loop keeps the connection alive; clients only listen.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
