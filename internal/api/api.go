// Jobclerk is a job dispatch and lease tracking service.
// Copyright (C) 2025  Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package api is the HTTP transport adapter for the dispatch engine: it
// decodes one tagged request from POST /api, hands it to the engine, and
// writes the tagged response. Every semantic outcome is HTTP 200; the body
// carries the result.
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"jobclerk/internal/dispatch"
	"jobclerk/pkg/clerk"
)

// maxRequestBytes bounds request bodies; payloads are small JSON documents.
const maxRequestBytes = 1 << 20

// Handler serves the clerk wire protocol.
type Handler struct {
	engine *dispatch.Engine
}

// New returns the /api handler.
func New(engine *dispatch.Engine) http.Handler {
	h := &Handler{engine: engine}

	mux := http.NewServeMux()
	mux.HandleFunc("/api", h.handleAPI)
	return mux
}

func (h *Handler) handleAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		writeResponse(w, clerk.BadRequestResponse("read request body: %s", err))
		return
	}

	var req clerk.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, clerk.BadRequestResponse("malformed request: %s", err))
		return
	}

	writeResponse(w, h.engine.Handle(r.Context(), &req))
}

func writeResponse(w http.ResponseWriter, resp clerk.Response) {
	body, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		slog.Warn("failed to write response body", "error", err)
	}
}
