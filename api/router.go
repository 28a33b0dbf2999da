package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"mclink/config"
	"mclink/plcman"
)

// PLCResponse is the JSON response for PLC info.
type PLCResponse struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Family  string `json:"family"`
	Status  string `json:"status"`
	Model   string `json:"model,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TagResponse is the JSON response for a tag value. Address is the device
// address the tag name resolves to.
type TagResponse struct {
	PLC      string      `json:"plc"`
	Name     string      `json:"name"`
	Address  string      `json:"address"`
	Type     string      `json:"type"`
	Value    interface{} `json:"value"`
	Writable bool        `json:"writable"`
	Error    string      `json:"error,omitempty"`
}

// HealthResponse is the JSON structure for PLC health status.
type HealthResponse struct {
	PLC       string `json:"plc"`
	Family    string `json:"family"`
	Online    bool   `json:"online"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// WriteRequest is the JSON request for writing a tag value.
type WriteRequest struct {
	PLC   string      `json:"plc"`
	Tag   string      `json:"tag"`
	Value interface{} `json:"value"`
}

// WriteResponse is the JSON response after writing a tag value.
type WriteResponse struct {
	PLC       string      `json:"plc"`
	Tag       string      `json:"tag"`
	Value     interface{} `json:"value"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// router builds the chi route tree.
func (s *Server) router() chi.Router {
	r := chi.NewRouter()

	r.Get("/", s.handleListPLCs)
	r.Get("/events", s.handleSSE)

	r.Post("/plcs", s.handleAddPLC)

	r.Route("/{plc}", func(r chi.Router) {
		r.Get("/", s.handlePLCDetails)
		r.Put("/", s.handleUpdatePLC)
		r.Delete("/", s.handleRemovePLC)
		r.Get("/health", s.handlePLCHealth)
		r.Get("/tags", s.handleAllTags)
		r.Get("/tags/*", s.handleSingleTag)
		r.Post("/tags", s.handleAddTag)
		r.Delete("/tags/*", s.handleRemoveTag)
		r.Post("/write", s.handleWrite)
	})

	return r
}

// plcParam extracts and unescapes the {plc} URL parameter.
func plcParam(r *http.Request) string {
	name := chi.URLParam(r, "plc")
	name, _ = url.PathUnescape(name)
	return name
}

func (s *Server) plcResponse(plc *plcman.ManagedPLC) PLCResponse {
	resp := PLCResponse{
		Name:    plc.Config.Name,
		Address: plc.Config.Address,
		Family:  string(plc.Config.GetFamily()),
		Status:  plc.GetStatus().String(),
	}

	if info := plc.GetInfo(); info != nil {
		resp.Model = info.Model
	}
	if err := plc.GetError(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func (s *Server) handleListPLCs(w http.ResponseWriter, r *http.Request) {
	plcs := s.manager.ListPLCs()
	response := make([]PLCResponse, 0, len(plcs))

	for _, plc := range plcs {
		response = append(response, s.plcResponse(plc))
	}

	s.writeJSON(w, response)
}

func (s *Server) handlePLCDetails(w http.ResponseWriter, r *http.Request) {
	plc := s.manager.GetPLC(plcParam(r))
	if plc == nil {
		s.writeError(w, http.StatusNotFound, "PLC not found")
		return
	}

	s.writeJSON(w, s.plcResponse(plc))
}

func (s *Server) handlePLCHealth(w http.ResponseWriter, r *http.Request) {
	plc := s.manager.GetPLC(plcParam(r))
	if plc == nil {
		s.writeError(w, http.StatusNotFound, "PLC not found")
		return
	}

	s.writeJSON(w, healthResponse(plc))
}

func healthResponse(plc *plcman.ManagedPLC) HealthResponse {
	status := plc.GetStatus()
	resp := HealthResponse{
		PLC:       plc.Config.Name,
		Family:    string(plc.Config.GetFamily()),
		Online:    status == plcman.StatusConnected,
		Status:    status.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := plc.GetError(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func (s *Server) tagResponse(plc *plcman.ManagedPLC, tag *config.TagConfig) TagResponse {
	resp := TagResponse{
		PLC:      plc.Config.Name,
		Name:     tag.Name,
		Address:  tag.Address,
		Writable: tag.Writable,
	}

	if v, ok := plc.GetValues()[tag.Name]; ok {
		resp.Type = v.TypeName()
		resp.Value = v.GoValue()
		if v.Error != nil {
			resp.Error = v.Error.Error()
		}
	}
	return resp
}

func (s *Server) handleAllTags(w http.ResponseWriter, r *http.Request) {
	plc := s.manager.GetPLC(plcParam(r))
	if plc == nil {
		s.writeError(w, http.StatusNotFound, "PLC not found")
		return
	}

	response := make([]TagResponse, 0)
	for i := range plc.Config.Tags {
		tag := &plc.Config.Tags[i]
		if !tag.Enabled {
			continue
		}
		response = append(response, s.tagResponse(plc, tag))
	}

	s.writeJSON(w, response)
}

func (s *Server) handleSingleTag(w http.ResponseWriter, r *http.Request) {
	plc := s.manager.GetPLC(plcParam(r))
	if plc == nil {
		s.writeError(w, http.StatusNotFound, "PLC not found")
		return
	}

	tagName := chi.URLParam(r, "*")
	tagName, _ = url.PathUnescape(tagName)

	tag := plc.Config.FindTag(tagName)
	if tag == nil || !tag.Enabled {
		s.writeError(w, http.StatusNotFound, "tag not found or not enabled")
		return
	}

	// Cached value first
	if _, ok := plc.GetValues()[tagName]; ok {
		s.writeJSON(w, s.tagResponse(plc, tag))
		return
	}

	// Fall back to an on-demand read
	v, err := s.manager.ReadTag(plc.Config.Name, tagName)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := TagResponse{
		PLC:      plc.Config.Name,
		Name:     tagName,
		Address:  tag.Address,
		Writable: tag.Writable,
		Type:     v.TypeName(),
		Value:    v.GoValue(),
	}
	if v.Error != nil {
		resp.Error = v.Error.Error()
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	plc := s.manager.GetPLC(plcParam(r))
	if plc == nil {
		s.writeError(w, http.StatusNotFound, "PLC not found")
		return
	}

	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	writeResp := func(status int, errMsg string) {
		resp := WriteResponse{
			PLC:       req.PLC,
			Tag:       req.Tag,
			Value:     req.Value,
			Success:   errMsg == "",
			Error:     errMsg,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
		}
		s.writeJSON(w, resp)
	}

	if req.PLC != plc.Config.Name {
		writeResp(http.StatusBadRequest,
			fmt.Sprintf("PLC name mismatch: URL has '%s', request has '%s'", plc.Config.Name, req.PLC))
		return
	}

	tag := plc.Config.FindTag(req.Tag)

	if plc.GetStatus() != plcman.StatusConnected {
		writeResp(http.StatusServiceUnavailable, "PLC not connected")
		return
	}
	if tag == nil {
		writeResp(http.StatusNotFound, "tag not found")
		return
	}
	if !tag.Writable {
		writeResp(http.StatusForbidden, "tag is not writable")
		return
	}

	// Write in a goroutine with timeout to keep the handler bounded
	resultChan := make(chan error, 1)
	go func() {
		resultChan <- s.manager.WriteTag(plc.Config.Name, req.Tag, req.Value)
	}()

	var writeErr error
	select {
	case writeErr = <-resultChan:
	case <-time.After(3 * time.Second):
		writeErr = fmt.Errorf("write timeout: PLC did not respond within 3 seconds")
	}

	if writeErr != nil {
		writeResp(http.StatusInternalServerError, writeErr.Error())
		return
	}
	writeResp(http.StatusOK, "")
}
