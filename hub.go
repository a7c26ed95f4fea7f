package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds each write so a stalled client is dropped instead of
// holding up the broadcast.
var writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hub fans readings out to every connected WebSocket client.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]bool)}
}

func (h *hub) handleWebSocket(w http.ResponseWriter, r *http.Request, first *SensorReading) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		lg.Warningf("WebSocket upgrade error: %v", err)
		return
	}

	h.mu.Lock()
	if first != nil {
		if err := writeClient(conn, first); err != nil {
			h.mu.Unlock()
			conn.Close()
			return
		}
	}
	h.clients[conn] = true
	n := len(h.clients)
	h.mu.Unlock()
	lg.Infof("Client connected. Total clients: %d", n)

	// Keep connection alive until the client goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, conn)
	n = len(h.clients)
	h.mu.Unlock()
	conn.Close()
	lg.Infof("Client disconnected. Total clients: %d", n)
}

func (h *hub) broadcast(reading SensorReading) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if err := writeClient(client, reading); err != nil {
			lg.Warningf("WebSocket write error: %v", err)
			client.Close()
			delete(h.clients, client)
		}
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

func writeClient(conn *websocket.Conn, v interface{}) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}
