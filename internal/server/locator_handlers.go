package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/BadgerOps/mirrorswitch/internal/locator"
	"github.com/BadgerOps/mirrorswitch/internal/resolve"
	"github.com/BadgerOps/mirrorswitch/internal/store"
)

const defaultHistoryLimit = 50

type selectRequest struct {
	Tries          int  `json:"tries"`
	TimeoutSeconds int  `json:"timeout_seconds"`
	Activate       bool `json:"activate"`
}

type selectResponse struct {
	Selection  *locator.SelectionResult  `json:"selection,omitempty"`
	Activation *locator.ActivationResult `json:"activation,omitempty"`
}

type activateRequest struct {
	URL string `json:"url"`
}

type resolveRequest struct {
	PrimaryKey string `json:"primary_key"`
	InternalID string `json:"internal_id"`
	ProviderID string `json:"provider_id"`
}

type resolveResponse struct {
	InternalID string `json:"internal_id"`
	Resolved   string `json:"resolved"`
	Rewritten  bool   `json:"rewritten"`
}

type activationJSON struct {
	ID           int64     `json:"id"`
	EpochID      string    `json:"epoch_id"`
	RemoteURL    string    `json:"remote_url"`
	CatalogURL   string    `json:"catalog_url,omitempty"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error,omitempty"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	req := selectRequest{
		Tries:          s.config.Mirrors.URLTriesCount,
		TimeoutSeconds: s.config.Mirrors.TimeoutSeconds,
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}
	if req.Tries <= 0 || req.TimeoutSeconds <= 0 {
		jsonError(w, http.StatusBadRequest, "tries and timeout_seconds must be positive")
		return
	}
	timeout := time.Duration(req.TimeoutSeconds) * time.Second

	if req.Activate {
		if kept, ok := s.locator.RetainedSelection(); ok {
			writeJSON(w, http.StatusOK, selectResponse{Activation: &kept})
			return
		}
	}

	sel := s.locator.SelectRemote(r.Context(), req.Tries, timeout)
	if !sel.Success {
		writeJSON(w, selectionStatus(sel.Err), selectResponse{Selection: &sel})
		return
	}

	resp := selectResponse{Selection: &sel}
	code := http.StatusOK
	if req.Activate {
		act := s.locator.ActivateSelection(r.Context(), sel.URL)
		resp.Activation = &act
		if !act.Success {
			code = activationStatus(act.Err)
		}
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	res := s.locator.ActivateURL(r.Context(), req.URL)
	if !res.Success {
		writeJSON(w, activationStatus(res.Err), res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.InternalID == "" {
		jsonError(w, http.StatusBadRequest, "internal_id is required")
		return
	}

	resolved := s.resolver.Resolve(resolve.Location{
		PrimaryKey: req.PrimaryKey,
		InternalID: req.InternalID,
		ProviderID: req.ProviderID,
	})
	writeJSON(w, http.StatusOK, resolveResponse{
		InternalID: req.InternalID,
		Resolved:   resolved,
		Rewritten:  resolved != req.InternalID,
	})
}

type resolveBatchRequest struct {
	Locations []resolveRequest `json:"locations"`
}

func (s *Server) handleResolveBatch(w http.ResponseWriter, r *http.Request) {
	var req resolveBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	locs := make([]resolve.Location, len(req.Locations))
	for i, l := range req.Locations {
		locs[i] = resolve.Location{PrimaryKey: l.PrimaryKey, InternalID: l.InternalID, ProviderID: l.ProviderID}
	}
	resolved := s.resolver.ResolveAll(locs)

	result := make([]resolveResponse, len(locs))
	for i, id := range resolved {
		result[i] = resolveResponse{
			InternalID: locs[i].InternalID,
			Resolved:   id,
			Rewritten:  id != locs[i].InternalID,
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListActivations(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, http.StatusNotImplemented, "activation history requires the sqlite store")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	history, err := s.store.ListActivations(r.Context(), limit)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result := make([]activationJSON, 0, len(history))
	for _, a := range history {
		result = append(result, activationToJSON(a))
	}
	writeJSON(w, http.StatusOK, result)
}

func activationToJSON(a store.Activation) activationJSON {
	return activationJSON{
		ID:           a.ID,
		EpochID:      a.EpochID,
		RemoteURL:    a.RemoteURL,
		CatalogURL:   a.CatalogURL,
		Status:       a.Status,
		ErrorMessage: a.ErrorMessage,
		StartTime:    a.StartTime,
		EndTime:      a.EndTime,
	}
}

func activationStatus(err error) int {
	switch {
	case errors.Is(err, locator.ErrEmptyURL):
		return http.StatusBadRequest
	case errors.Is(err, locator.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, locator.ErrDisabled):
		return http.StatusConflict
	case errors.Is(err, locator.ErrManifestLoad):
		return http.StatusBadGateway
	case errors.Is(err, locator.ErrCancelled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func selectionStatus(err error) int {
	switch {
	case errors.Is(err, locator.ErrNoMirrors):
		return http.StatusConflict
	case errors.Is(err, locator.ErrUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, locator.ErrNotFound):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
