package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/BadgerOps/mirrorswitch/internal/mirror"
)

type statusRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.locator.Snapshot())
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Enabled == nil {
		jsonError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	s.locator.SetStatus(*req.Enabled)
	writeJSON(w, http.StatusOK, s.locator.Snapshot())
}

func (s *Server) handleListMirrors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.locator.Mirrors())
}

func (s *Server) handleRegisterMirror(w http.ResponseWriter, r *http.Request) {
	var m mirror.Mirror
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(m.RemoteURL) == "" {
		jsonError(w, http.StatusBadRequest, "remote_url is required")
		return
	}
	if !m.Enabled {
		jsonError(w, http.StatusUnprocessableEntity, "disabled mirrors are not registered")
		return
	}

	s.locator.Register(m)
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleRemoveMirror(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		jsonError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}

	if !s.locator.Remove(url) {
		jsonError(w, http.StatusNotFound, "mirror not registered: "+url)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
