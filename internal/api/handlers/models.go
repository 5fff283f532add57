// Copyright © 2026 Arinova, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/arinova/bridge/internal/registry"
)

// ModelCatalog is the subset of registry.Registry the models handler needs.
type ModelCatalog interface {
	Models() []registry.ModelInfo
}

// ModelHandler implements GET /v1/models and GET /v1/models/{id}.
type ModelHandler struct {
	catalog ModelCatalog
}

// NewModelHandler creates a ModelHandler.
func NewModelHandler(catalog ModelCatalog) *ModelHandler {
	return &ModelHandler{catalog: catalog}
}

type modelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Object string        `json:"object"`
	Data   []modelObject `json:"data"`
}

// List handles GET /v1/models.
func (h *ModelHandler) List(w http.ResponseWriter, r *http.Request) {
	models := h.catalog.Models()
	data := make([]modelObject, 0, len(models))
	for _, m := range models {
		data = append(data, modelObject{ID: m.ID, Object: "model", OwnedBy: m.OwnedBy})
	}
	writeJSON(w, http.StatusOK, modelList{Object: "list", Data: data})
}

// Get handles GET /v1/models/{id}.
func (h *ModelHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	for _, m := range h.catalog.Models() {
		if m.ID == id {
			writeJSON(w, http.StatusOK, modelObject{ID: m.ID, Object: "model", OwnedBy: m.OwnedBy})
			return
		}
	}
	writeError(w, http.StatusNotFound, ErrTypeInvalidRequest, "model not found")
}
