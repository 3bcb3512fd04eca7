package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"itemstore/internal/events"
	"itemstore/internal/models"
	"itemstore/internal/store"

	"github.com/go-chi/chi/v5"
)

type createItemRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

func (s *HTTPServer) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.List(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list items")
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *HTTPServer) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	item, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, id, err, "get item")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "name is required")
		return
	}

	item, err := s.store.Create(r.Context(), req.Name, req.Description)
	if err != nil {
		s.logger.Error().Err(err).Msg("create item")
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
		return
	}

	s.publishItemEvent(events.EventItemCreated, item)
	writeJSON(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	// An unknown id is a 404 no matter what the body holds.
	if _, err := s.store.Get(r.Context(), id); err != nil {
		s.respondStoreError(w, id, err, "update item")
		return
	}

	var update models.ItemUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid JSON body")
		return
	}
	if update.Empty() {
		writeError(w, http.StatusBadRequest, codeBadRequest, "no update data provided")
		return
	}

	item, err := s.store.Update(r.Context(), id, update)
	if err != nil {
		s.respondStoreError(w, id, err, "update item")
		return
	}

	s.publishItemEvent(events.EventItemUpdated, item)
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}

	if err := s.store.Delete(r.Context(), id); err != nil {
		s.respondStoreError(w, id, err, "delete item")
		return
	}

	s.publishItemEvent(events.EventItemDeleted, models.Item{ID: id})
	w.WriteHeader(http.StatusNoContent)
}

// itemID parses the id path parameter. A non-numeric id addresses no
// resource, so it reports 404 rather than 400.
func itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, codeNotFound, "resource not found")
		return 0, false
	}
	return id, true
}

func (s *HTTPServer) respondStoreError(w http.ResponseWriter, id int64, err error, op string) {
	if errors.Is(err, store.ErrItemNotFound) {
		writeError(w, http.StatusNotFound, codeNotFound, fmt.Sprintf("item with id %d not found", id))
		return
	}
	s.logger.Error().Err(err).Int64("item_id", id).Msg(op)
	writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
}

func (s *HTTPServer) publishItemEvent(eventType string, item models.Item) {
	if s.events == nil {
		return
	}
	payload := events.ItemEventPayload{ItemID: item.ID, Name: item.Name, Description: item.Description}
	if err := s.events.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("publish event")
	}
}
