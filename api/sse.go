package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"mclink/logging"
	"mclink/plcman"
)

// SSE event type constants.
const (
	eventValueChange  = "value-change"
	eventStatusChange = "status-change"
	eventHealth       = "health"
)

// sseEvent is an internal event for the SSE hub.
type sseEvent struct {
	Type string
	PLC  string // set when event is PLC-specific (for filtering)
	Tag  string // set when event is tag-specific (for filtering)
	Data interface{}
}

// valueUpdate is the JSON payload for value-change events.
type valueUpdate struct {
	PLC   string      `json:"plc"`
	Tag   string      `json:"tag"`
	Value interface{} `json:"value"`
	Type  string      `json:"type,omitempty"`
}

// statusUpdate is the JSON payload for status-change events.
type statusUpdate struct {
	PLC      string `json:"plc"`
	Status   string `json:"status"`
	TagCount int    `json:"tagCount"`
	Error    string `json:"error,omitempty"`
	Model    string `json:"model,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

// sseClient represents a connected SSE client.
type sseClient struct {
	id     string
	events chan sseEvent
	done   chan struct{}
}

// eventHub manages SSE client connections and broadcasts events.
type eventHub struct {
	clients    map[string]*sseClient
	register   chan *sseClient
	unregister chan *sseClient
	broadcast  chan sseEvent
	mu         sync.RWMutex
	done       chan struct{}
}

func newEventHub() *eventHub {
	hub := &eventHub{
		clients:    make(map[string]*sseClient),
		register:   make(chan *sseClient),
		unregister: make(chan *sseClient),
		broadcast:  make(chan sseEvent, 256),
		done:       make(chan struct{}),
	}
	go hub.run()
	return hub
}

func (h *eventHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.events)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				select {
				case client.events <- event:
				default:
					logging.DebugLog("api", "SSE client %s buffer full, dropping %s event", client.id, event.Type)
				}
			}
			h.mu.RUnlock()

		case <-h.done:
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.events)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *eventHub) Broadcast(event sseEvent) {
	select {
	case h.broadcast <- event:
	default:
		logging.DebugLog("api", "SSE broadcast channel full, dropping %s event", event.Type)
	}
}

func (h *eventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *eventHub) Stop() {
	close(h.done)
}

// NotifyValueChanges broadcasts value-change events to connected SSE
// clients. Wire it to the PLC manager's value-change callback.
func (s *Server) NotifyValueChanges(changes []plcman.ValueChange) {
	for _, change := range changes {
		s.hub.Broadcast(sseEvent{
			Type: eventValueChange,
			PLC:  change.PLCName,
			Tag:  change.TagName,
			Data: valueUpdate{
				PLC:   change.PLCName,
				Tag:   change.TagName,
				Value: change.Value,
				Type:  change.TypeName,
			},
		})
	}
}

// NotifyStatusChange broadcasts status-change events for all PLCs. Wire it
// to the PLC manager's status callback.
func (s *Server) NotifyStatusChange() {
	for _, plc := range s.manager.ListPLCs() {
		status := plc.GetStatus()

		errMsg := ""
		if err := plc.GetError(); err != nil {
			errMsg = err.Error()
		}

		model := ""
		if info := plc.GetInfo(); info != nil {
			model = info.Model
		}

		s.hub.Broadcast(sseEvent{
			Type: eventStatusChange,
			PLC:  plc.Config.Name,
			Data: statusUpdate{
				PLC:      plc.Config.Name,
				Status:   strings.ToLower(status.String()),
				TagCount: len(plc.Config.Tags),
				Error:    errMsg,
				Model:    model,
				Mode:     plc.GetConnectionMode(),
			},
		})
	}
}

// handleSSE serves the /events SSE endpoint.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Parse filters from query params
	var typeFilter map[string]bool
	if types := r.URL.Query().Get("types"); types != "" {
		typeFilter = make(map[string]bool)
		for _, t := range strings.Split(types, ",") {
			typeFilter[strings.TrimSpace(t)] = true
		}
	}
	var plcFilter map[string]bool
	if plcs := r.URL.Query().Get("plcs"); plcs != "" {
		plcFilter = make(map[string]bool)
		for _, p := range strings.Split(plcs, ",") {
			plcFilter[strings.TrimSpace(p)] = true
		}
	}
	var tagFilter map[string]bool
	if tags := r.URL.Query().Get("tags"); tags != "" {
		tagFilter = make(map[string]bool)
		for _, t := range strings.Split(tags, ",") {
			tagFilter[strings.TrimSpace(t)] = true
		}
	}

	clientID := fmt.Sprintf("api-%d", time.Now().UnixNano())
	client := &sseClient{
		id:     clientID,
		events: make(chan sseEvent, 64),
		done:   make(chan struct{}),
	}

	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	notify := r.Context().Done()

	fmt.Fprintf(w, "event: connected\ndata: {\"id\":%q}\n\n", clientID)
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-notify:
			select {
			case s.hub.unregister <- client:
			case <-s.hub.done:
			}
			return

		case event, ok := <-client.events:
			if !ok {
				return
			}
			if typeFilter != nil && !typeFilter[event.Type] {
				continue
			}
			// PLC and tag filters apply only to events that carry them
			if plcFilter != nil && event.PLC != "" && !plcFilter[event.PLC] {
				continue
			}
			if tagFilter != nil && event.Tag != "" && !tagFilter[event.Tag] {
				continue
			}
			data, err := json.Marshal(event.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, string(data))
			flusher.Flush()

		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// pollHealth broadcasts health events for all PLCs on a 10s ticker.
func (s *Server) pollHealth() {
	// Initial delay to let PLCs connect
	select {
	case <-time.After(2 * time.Second):
	case <-s.hub.done:
		return
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.hub.done:
			return
		case <-ticker.C:
			if s.hub.ClientCount() == 0 {
				continue
			}
			for _, plc := range s.manager.ListPLCs() {
				s.hub.Broadcast(sseEvent{
					Type: eventHealth,
					PLC:  plc.Config.Name,
					Data: healthResponse(plc),
				})
			}
		}
	}
}
