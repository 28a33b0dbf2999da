package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"mclink/config"
)

// plcRequest is the JSON body for PLC create/update.
type plcRequest struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Family   string `json:"family"`
	Enabled  bool   `json:"enabled"`
	PollRate string `json:"poll_rate"`
	Timeout  string `json:"timeout"`
}

// tagRequest is the JSON body for tag create/update.
type tagRequest struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	DataType string `json:"data_type"`
	Count    int    `json:"count"`
	Enabled  bool   `json:"enabled"`
	Writable bool   `json:"writable"`
}

func (r *plcRequest) toConfig() config.PLCConfig {
	plc := config.PLCConfig{
		Name:    r.Name,
		Address: r.Address,
		Family:  config.PLCFamily(strings.ToLower(r.Family)),
		Enabled: r.Enabled,
	}
	if d, err := time.ParseDuration(r.PollRate); err == nil {
		plc.PollRate = d
	}
	if d, err := time.ParseDuration(r.Timeout); err == nil {
		plc.Timeout = d
	}
	return plc
}

func (r *tagRequest) toConfig() config.TagConfig {
	return config.TagConfig{
		Name:     r.Name,
		Address:  r.Address,
		DataType: r.DataType,
		Count:    r.Count,
		Enabled:  r.Enabled,
		Writable: r.Writable,
	}
}

// saveConfig persists the config while holding its lock, releasing on return.
func (s *Server) saveConfig(w http.ResponseWriter) bool {
	if err := s.cfg.UnlockAndSave(s.cfgPath); err != nil {
		s.writeError(w, http.StatusInternalServerError, "save failed: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleAddPLC(w http.ResponseWriter, r *http.Request) {
	var req plcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.Address == "" {
		s.writeError(w, http.StatusBadRequest, "name and address are required")
		return
	}

	s.cfg.Lock()
	if s.cfg.FindPLC(req.Name) != nil {
		s.cfg.Unlock()
		s.writeError(w, http.StatusConflict, fmt.Sprintf("PLC '%s' already exists", req.Name))
		return
	}
	plc := req.toConfig()
	s.cfg.AddPLC(plc)
	if !s.saveConfig(w) {
		return
	}

	s.manager.AddPLC(s.cfg.FindPLC(req.Name))
	if plc.Enabled {
		go s.manager.Connect(req.Name)
	}

	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, map[string]string{"status": "created"})
}

func (s *Server) handleUpdatePLC(w http.ResponseWriter, r *http.Request) {
	name := plcParam(r)
	var req plcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.cfg.Lock()
	existing := s.cfg.FindPLC(name)
	if existing == nil {
		s.cfg.Unlock()
		s.writeError(w, http.StatusNotFound, "PLC not found")
		return
	}
	updated := req.toConfig()
	updated.Name = name
	updated.Tags = existing.Tags // tag list is managed through its own endpoints
	s.cfg.UpdatePLC(name, updated)
	if !s.saveConfig(w) {
		return
	}

	// Re-register so the manager picks up the new settings
	s.manager.RemovePLC(name)
	s.manager.AddPLC(s.cfg.FindPLC(name))
	if updated.Enabled {
		go s.manager.Connect(name)
	}

	s.writeJSON(w, map[string]string{"status": "updated"})
}

func (s *Server) handleRemovePLC(w http.ResponseWriter, r *http.Request) {
	name := plcParam(r)

	s.cfg.Lock()
	if !s.cfg.RemovePLC(name) {
		s.cfg.Unlock()
		s.writeError(w, http.StatusNotFound, "PLC not found")
		return
	}
	if !s.saveConfig(w) {
		return
	}

	s.manager.RemovePLC(name)
	s.writeJSON(w, map[string]string{"status": "deleted"})
}

func (s *Server) handleAddTag(w http.ResponseWriter, r *http.Request) {
	name := plcParam(r)
	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.Address == "" {
		s.writeError(w, http.StatusBadRequest, "name and address are required")
		return
	}

	s.cfg.Lock()
	plc := s.cfg.FindPLC(name)
	if plc == nil {
		s.cfg.Unlock()
		s.writeError(w, http.StatusNotFound, "PLC not found")
		return
	}
	if plc.FindTag(req.Name) != nil {
		s.cfg.Unlock()
		s.writeError(w, http.StatusConflict, fmt.Sprintf("tag '%s' already exists", req.Name))
		return
	}
	plc.Tags = append(plc.Tags, req.toConfig())
	if !s.saveConfig(w) {
		return
	}

	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, map[string]string{"status": "created"})
}

func (s *Server) handleRemoveTag(w http.ResponseWriter, r *http.Request) {
	name := plcParam(r)
	tagName, _ := url.PathUnescape(chi.URLParam(r, "*"))

	s.cfg.Lock()
	plc := s.cfg.FindPLC(name)
	if plc == nil {
		s.cfg.Unlock()
		s.writeError(w, http.StatusNotFound, "PLC not found")
		return
	}
	found := false
	for i := range plc.Tags {
		if plc.Tags[i].Name == tagName {
			plc.Tags = append(plc.Tags[:i], plc.Tags[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		s.cfg.Unlock()
		s.writeError(w, http.StatusNotFound, "tag not found")
		return
	}
	if !s.saveConfig(w) {
		return
	}

	s.writeJSON(w, map[string]string{"status": "deleted"})
}
