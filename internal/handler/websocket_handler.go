// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vehicle-gateway/internal/events"
	"vehicle-gateway/internal/service"
	"vehicle-gateway/internal/utils"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsWriteWait  = 10 * time.Second
)

// WebSocketHandler streams bus events to WebSocket clients
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	connections *ConnectionManager
	eventBus    *events.Bus
	relays      *service.RelayService
	logger      *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler. relays may be nil.
// An empty allowedOrigins list or one containing "*" accepts any origin.
func NewWebSocketHandler(eventBus *events.Bus, relays *service.RelayService, allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
				return true
			}
			return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
		},
	}

	return &WebSocketHandler{
		upgrader:    upgrader,
		connections: NewConnectionManager(),
		eventBus:    eventBus,
		relays:      relays,
		logger:      utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

// Start runs the connection manager and forwards bus events until ctx is done.
func (h *WebSocketHandler) Start(ctx context.Context) {
	go h.connections.Run(ctx)

	eventsCh, cancel := h.eventBus.Subscribe(events.AllTypes)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventsCh:
				h.broadcastEvent(event)
			}
		}
	}()
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.HandleEventConnection)
	router.GET("/stats", h.Stats)
}

// HandleEventConnection upgrades the request and streams events
// @Summary Event stream
// @Description WebSocket stream of relay, device, heater, battery, inverter and CAN link events
// @Tags WebSocket
// @Router /ws/events [get]
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 256),
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}

	if !h.connections.Register(client) {
		conn.Close()
		return
	}
	h.logger.Info("Event WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
	)

	h.sendInitialState(client)

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// Stats returns connection statistics
// @Summary WebSocket connection statistics
// @Tags WebSocket
// @Produce json
// @Success 200 {object} utils.APIResponse{data=ConnectionStats}
// @Router /ws/stats [get]
func (h *WebSocketHandler) Stats(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "WebSocket statistics retrieved", h.connections.GetStats())
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
		h.logger.Info("Event WebSocket client disconnected", zap.String("client_id", client.ID))
	}()

	client.Connection.SetReadDeadline(time.Now().Add(wsPongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			return
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.sendError(client, "", "invalid message")
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Warn("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case "subscribe":
		if topic, ok := stringField(message.Data, "topic"); ok {
			client.Subscribe(topic)
			h.sendMessage(client, &WebSocketMessage{
				Type:      "subscription_confirmed",
				Data:      map[string]interface{}{"topic": topic},
				Timestamp: time.Now(),
				RequestID: message.RequestID,
			})
			return
		}
		h.sendError(client, message.RequestID, "topic is required")
	case "unsubscribe":
		if topic, ok := stringField(message.Data, "topic"); ok {
			client.Unsubscribe(topic)
			return
		}
		h.sendError(client, message.RequestID, "topic is required")
	case "get_device_status":
		h.handleDeviceStatus(client, message)
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
	default:
		h.logger.Debug("Unknown message type",
			zap.String("type", message.Type),
			zap.String("client_id", client.ID),
		)
		h.sendError(client, message.RequestID, "unknown message type: "+message.Type)
	}
}

func (h *WebSocketHandler) handleDeviceStatus(client *Client, message *WebSocketMessage) {
	if h.relays == nil {
		h.sendError(client, message.RequestID, "relay service unavailable")
		return
	}

	deviceID, ok := stringField(message.Data, "device_id")
	if !ok {
		h.sendMessage(client, &WebSocketMessage{
			Type:      "device_status",
			Data:      h.relays.Snapshots(),
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
		return
	}

	snapshot, err := h.relays.Snapshot(deviceID)
	if err != nil {
		h.sendError(client, message.RequestID, err.Error())
		return
	}
	h.sendMessage(client, &WebSocketMessage{
		Type:      "device_status",
		Data:      snapshot,
		Timestamp: time.Now(),
		RequestID: message.RequestID,
	})
}

// sendInitialState sends the cached state of every relay bank
func (h *WebSocketHandler) sendInitialState(client *Client) {
	if h.relays == nil {
		return
	}
	h.sendMessage(client, &WebSocketMessage{
		Type:      "initial_state",
		Data:      map[string]interface{}{"relays": h.relays.Snapshots()},
		Timestamp: time.Now(),
	})
}

func (h *WebSocketHandler) broadcastEvent(event events.Event) {
	messageBytes, err := json.Marshal(&WebSocketMessage{
		Type:      event.Type,
		Data:      event,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.String("event_type", event.Type), zap.Error(err))
		return
	}
	h.connections.Deliver(event.Type, messageBytes)
}

// sendMessage sends a message to a client
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	if !h.connections.SendTo(client, messageBytes) {
		h.logger.Warn("Client send channel full, dropping message",
			zap.String("client_id", client.ID),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, requestID, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type:      "error",
		Data:      map[string]interface{}{"error": errorMsg},
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}

func stringField(data interface{}, key string) (string, bool) {
	m, ok := data.(map[string]interface{})
	if !ok {
		return "", false
	}
	s, ok := m[key].(string)
	return s, ok && s != ""
}
