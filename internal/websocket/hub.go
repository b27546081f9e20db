package websocket

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voxoff/pipeline/internal/model"
	"github.com/voxoff/pipeline/pkg/response"
)

const (
	sendBuffer   = 64
	pingInterval = 30 * time.Second
)

// Client is one WebSocket subscriber to a job's status.
type Client struct {
	JobID string
	Send  chan []byte
}

// NewClient creates an unregistered client for jobID.
func NewClient(jobID string) *Client {
	return &Client{JobID: jobID, Send: make(chan []byte, sendBuffer)}
}

// Hub fans job status updates out to the clients watching each job.
type Hub struct {
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logger.Named("ws"),
	}
}

// Register adds a client.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client.JobID] == nil {
		h.clients[client.JobID] = make(map[*Client]struct{})
	}
	h.clients[client.JobID][client] = struct{}{}
	h.logger.Debug("Client registered", zap.String("job_id", client.JobID))
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(client)
	h.logger.Debug("Client unregistered", zap.String("job_id", client.JobID))
}

func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.JobID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.JobID)
	}
}

// Subscribers reports how many clients watch jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

// Broadcast sends data to every client of jobID. Clients whose buffer is
// full are dropped.
func (h *Hub) Broadcast(jobID string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients[jobID] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("Dropping slow client", zap.String("job_id", jobID))
			h.remove(client)
		}
	}
}

// send queues data for one client if it is still registered.
func (h *Hub) send(client *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[client.JobID][client]; !ok {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

func statusMessage(record *model.JobStatusRecord) ([]byte, error) {
	return json.Marshal(model.WSStatusMessage{
		Type:   model.WSMessageTypeStatus,
		JobID:  record.JobID,
		Record: model.NewJobStatusResponse(record),
	})
}

func errorMessage(jobID, code, message string) ([]byte, error) {
	return json.Marshal(model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: jobID,
		Error: model.WSError{Code: code, Message: message},
	})
}

// initialMessage is the first frame a subscriber gets: the current record,
// or a not found error when the job is unknown.
func initialMessage(jobID string, current *model.JobStatusRecord) ([]byte, error) {
	if current == nil {
		return errorMessage(jobID, response.CodeNotFound, "job not found")
	}
	return statusMessage(current)
}

// Relay forwards every message published on the job status channels to the
// local clients until ctx is done.
func (h *Hub) Relay(ctx context.Context, rdb redis.UniversalClient) error {
	pattern := model.StatusChannel("*")
	sub := rdb.PSubscribe(ctx, pattern)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	h.logger.Info("Relaying job status", zap.String("pattern", pattern))

	prefix := strings.TrimSuffix(pattern, "*")
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			jobID := strings.TrimPrefix(msg.Channel, prefix)
			h.Broadcast(jobID, []byte(msg.Payload))
		}
	}
}

// wsConn is the part of a WebSocket connection the hub drives.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
}

// HandleConnection serves one WebSocket connection. The current record is
// sent first; a nil record yields a NOT_FOUND error message instead.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string, current *model.JobStatusRecord) {
	initial, err := initialMessage(jobID, current)
	if err != nil {
		h.logger.Error("Failed to marshal initial message", zap.String("job_id", jobID), zap.Error(err))
	}
	h.serve(c, NewClient(jobID), initial)
}

// serve returns only after the writer has stopped, so nothing touches conn
// once the handler is done with it.
func (h *Hub) serve(conn wsConn, client *Client, initial []byte) {
	h.Register(client)
	if initial != nil {
		h.send(client, initial)
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(conn, client)
	}()

	h.readLoop(conn, client)

	// Closing Send makes the writer flush, send a close frame and exit.
	h.Unregister(client)
	<-writerDone
}

func (h *Hub) readLoop(conn wsConn, client *Client) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("WebSocket error", zap.String("job_id", client.JobID), zap.Error(err))
			}
			return
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == model.WSMessageTypePing {
			data, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			h.send(client, data)
		}
	}
}

// writeLoop drains client.Send until it is closed or a write fails.
func (h *Hub) writeLoop(conn wsConn, client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.Send:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
