package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	idrange "go-idrange"
)

type allocateRequest struct {
	Size uint32 `json:"size"`
}

type rangeResponse struct {
	Name   string `json:"name"`
	MinIdx uint32 `json:"min_idx"`
	MaxIdx uint32 `json:"max_idx"`
	Size   uint32 `json:"size"`
}

type entryResponse struct {
	Pool string `json:"pool"`
	ID   uint32 `json:"id"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"peer_id": string(s.node.PeerID()),
	})
}

func (s *Server) handleListPools(w http.ResponseWriter, _ *http.Request) {
	var pools = s.node.Pools()
	if pools == nil {
		pools = []idrange.PoolInfo{}
	}
	writeJSON(w, http.StatusOK, pools)
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.Size == 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "size must be positive")
		return
	}

	var pool = chi.URLParam(r, "pool")
	var rng, err = s.node.Allocate(r.Context(), pool, req.Size)
	if err != nil {
		s.writeNodeError(w, err, "pool", pool, "size", req.Size)
		return
	}

	writeJSON(w, http.StatusCreated, rangeResponse{
		Name:   rng.Name,
		MinIdx: rng.MinIdx,
		MaxIdx: rng.MaxIdx,
		Size:   rng.Size(),
	})
}

func (s *Server) handleAllocEntry(w http.ResponseWriter, r *http.Request) {
	var pool = chi.URLParam(r, "pool")
	var id, err = s.node.AllocEntry(r.Context(), pool)
	if err != nil {
		s.writeNodeError(w, err, "pool", pool)
		return
	}
	writeJSON(w, http.StatusCreated, entryResponse{Pool: pool, ID: id})
}

func (s *Server) handleFreeEntry(w http.ResponseWriter, r *http.Request) {
	var pool = chi.URLParam(r, "pool")
	var id, err = strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "id must be an unsigned 32-bit integer")
		return
	}

	if err := s.node.FreeEntry(r.Context(), pool, uint32(id)); err != nil {
		s.writeNodeError(w, err, "pool", pool, "id", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeNodeError maps node errors onto status codes.
func (s *Server) writeNodeError(w http.ResponseWriter, err error, attrs ...any) {
	var status, code = http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, idrange.ErrUnknownPool):
		status, code = http.StatusNotFound, "unknown_pool"
	case errors.Is(err, idrange.ErrNotOwner):
		status, code = http.StatusForbidden, "not_owner"
	case errors.Is(err, idrange.ErrNoFreeID):
		status, code = http.StatusConflict, "exhausted"
	case errors.Is(err, idrange.ErrAllocationFailed):
		status, code = http.StatusConflict, "allocation_failed"
	case errors.Is(err, idrange.ErrNodeNotStarted):
		status, code = http.StatusServiceUnavailable, "not_started"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status, code = http.StatusGatewayTimeout, "timeout"
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", append(attrs, "error", err)...)
	} else {
		s.logger.Debug("request rejected", append(attrs, "status", status, "error", err)...)
	}
	writeError(w, status, code, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
