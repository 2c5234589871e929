package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/edgeloop/itemd/pkg/httputil"
	"github.com/edgeloop/itemd/pkg/item"
	"github.com/edgeloop/itemd/pkg/store"
)

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.List(r.Context())
	if err != nil {
		s.backendError(w, "Error listing items", err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{
		"items":       items,
		"environment": s.environment,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	it, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.Error(w, http.StatusNotFound, "Item not found")
			return
		}
		s.backendError(w, "Error getting item", err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{
		"item":        it,
		"environment": s.environment,
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.decodeBody(w, r)
	if !ok {
		return
	}
	if payload.Name() == "" {
		httputil.Error(w, http.StatusBadRequest, "Missing required field: name")
		return
	}

	it := item.New(payload, time.Now())
	if err := s.store.Create(r.Context(), it); err != nil {
		s.backendError(w, "Error creating item", err)
		return
	}
	httputil.JSON(w, http.StatusCreated, map[string]any{
		"message":     "Item created successfully",
		"item":        it,
		"environment": s.environment,
	})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	payload, ok := s.decodeBody(w, r)
	if !ok {
		return
	}
	// name cannot be unset once created; the relational backend enforces the
	// same constraint at the column level
	if _, ok := payload[item.FieldName]; ok && payload.Name() == "" {
		httputil.Error(w, http.StatusBadRequest, "Missing required field: name")
		return
	}

	// the patch is exactly the payload fields minus id, plus a fresh updatedAt
	patch := item.Patch(payload, time.Now())
	merged, err := s.store.Update(r.Context(), id, patch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.Error(w, http.StatusNotFound, "Item not found")
			return
		}
		s.backendError(w, "Error updating item", err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{
		"message":     "Item updated successfully",
		"item":        merged,
		"environment": s.environment,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snapshot, err := s.store.Delete(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.Error(w, http.StatusNotFound, "Item not found")
			return
		}
		s.backendError(w, "Error deleting item", err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{
		"message":     "Item deleted successfully",
		"item":        snapshot,
		"environment": s.environment,
	})
}

// decodeBody reads the request body as a JSON object. An empty body and a
// non-object body are client errors; both are rejected before any store call.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request) (item.Item, bool) {
	var payload item.Item
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			httputil.Error(w, http.StatusBadRequest, "Request body is required")
		} else {
			httputil.Error(w, http.StatusBadRequest, "Invalid JSON in request body")
		}
		return nil, false
	}
	if len(payload) == 0 {
		httputil.Error(w, http.StatusBadRequest, "Request body is required")
		return nil, false
	}
	return payload, true
}

// backendError logs the cause and surfaces a generic failure. Store errors
// are not retried here.
func (s *Server) backendError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	httputil.Error(w, http.StatusInternalServerError, msg)
}
