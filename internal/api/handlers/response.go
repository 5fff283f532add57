// Copyright © 2026 Arinova, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package handlers implements the OpenAI-compatible HTTP handlers for the
// gateway's chat-completions and model-listing endpoints.
package handlers

import (
	"encoding/json"
	"net/http"
)

// openAIError is the error body shape OpenAI-compatible clients expect.
type openAIError struct {
	Error openAIErrorDetail `json:"error"`
}

type openAIErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Common error types, per spec.md §7.
const (
	ErrTypeInvalidRequest = "invalid_request_error"
	ErrTypeAPIError       = "api_error"
	ErrTypeTimeout        = "timeout_error"
	ErrTypeUnavailable    = "service_unavailable_error"
)

// writeError writes an OpenAI-style error body with the given HTTP status.
func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(openAIError{
		Error: openAIErrorDetail{Message: message, Type: errType},
	})
}

// writeJSON writes a JSON response with the given HTTP status.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
