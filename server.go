package main

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
)

// server holds the latest reading and serves it over HTTP and WebSocket.
type server struct {
	mu      sync.RWMutex
	current SensorReading
	valid   bool

	hub *hub
}

func newServer() *server {
	return &server{hub: newHub()}
}

func (s *server) update(reading SensorReading) {
	s.mu.Lock()
	s.current = reading
	s.valid = true
	s.mu.Unlock()

	s.hub.broadcast(reading)
}

func (s *server) latest() (SensorReading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.valid
}

func (s *server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleReading).Methods(http.MethodGet)
	r.HandleFunc("/raw", s.handleRaw).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket)
	return r
}

func (s *server) handleReading(w http.ResponseWriter, r *http.Request) {
	reading, ok := s.latest()
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, reading)
}

func (s *server) handleRaw(w http.ResponseWriter, r *http.Request) {
	reading, ok := s.latest()
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, reading.Raw)
}

func (s *server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var first *SensorReading
	if reading, ok := s.latest(); ok {
		first = &reading
	}
	s.hub.handleWebSocket(w, r, first)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	jsonStr, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(jsonStr); err != nil {
		lg.Warningf("Couldn't send response: %v", err)
	}
}
