package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"CarteraDash/api/constants"
	"CarteraDash/internal/logger"
)

type SSEClient struct {
	id      string
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	closed  bool
	done    chan struct{}
}

// SSEServer pushes run events to every open dashboard tab.
type SSEServer struct {
	mu           sync.RWMutex
	clients      map[string]*SSEClient
	pingInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewSSEServer(pingInterval time.Duration) *SSEServer {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	s := &SSEServer{
		clients:      make(map[string]*SSEClient),
		pingInterval: pingInterval,
		stopCh:       make(chan struct{}),
	}
	// keep connections alive through proxies
	go s.pingClients()

	return s
}

// HandleSSE handles SSE connections
func (s *SSEServer) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set(constants.ContentTypeText, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(constants.HeaderAccessControlAllowOrigin, "*")
	w.Header().Set(constants.HeaderAccessControlAllowHeaders, "Cache-Control")

	client := &SSEClient{
		id:      uuid.New().String(),
		writer:  w,
		flusher: flusher,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[client.id] = client
	s.mu.Unlock()

	logger.L().Debugw("sse connected", "client", client.id, "remote", r.RemoteAddr)

	s.sendToClient(client, map[string]interface{}{
		"type":    constants.EventConnected,
		"message": "SSE connection established",
		"time":    time.Now().Format(time.RFC3339),
	})

	defer func() {
		s.remove(client)
		logger.L().Debugw("sse disconnected", "client", client.id)
	}()

	select {
	case <-client.done:
	case <-r.Context().Done():
	case <-s.stopCh:
	}
}

func (s *SSEServer) sendToClient(client *SSEClient, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if client.closed {
		return nil
	}
	if _, err := fmt.Fprintf(client.writer, "data: %s\n\n", jsonData); err != nil {
		return err
	}
	client.flusher.Flush()
	return nil
}

// remove unregisters client. Holding client.mu waits out an in-flight write so nothing
// touches the ResponseWriter after the handler returns.
func (s *SSEServer) remove(client *SSEClient) {
	s.mu.Lock()
	if s.clients[client.id] == client {
		delete(s.clients, client.id)
	}
	s.mu.Unlock()

	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.closed {
		client.closed = true
		close(client.done)
	}
}

// Broadcast sends an event of the given type to every connected client. Clients that
// fail to receive it are dropped.
func (s *SSEServer) Broadcast(eventType string, payload map[string]interface{}) {
	msg := map[string]interface{}{
		"type": eventType,
		"time": time.Now().Format(time.RFC3339),
	}
	for k, v := range payload {
		msg[k] = v
	}

	s.mu.RLock()
	clients := make([]*SSEClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if err := s.sendToClient(c, msg); err != nil {
			logger.L().Warnw("sse send failed", "client", c.id, "error", err)
			s.remove(c)
		}
	}
}

func (s *SSEServer) pingClients() {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// a failed ping write drops the client
			s.Broadcast(constants.EventPing, nil)
		case <-s.stopCh:
			return
		}
	}
}

func (s *SSEServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// GetClientCount returns the number of connected clients
func (s *SSEServer) GetClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
