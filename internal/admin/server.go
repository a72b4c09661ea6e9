// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package admin exposes the service's operational HTTP surface: a
// health probe over the backing stores, the operator override for
// workflow statuses, and a rescan trigger for the ingestion poller.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/mailvine/ingestion/internal/workflow"
)

// Pinger is a connectivity check. Satisfied by *pgxpool.Pool and
// *queue.Publisher.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusStore applies operator overrides. Satisfied by *workflow.Store.
type StatusStore interface {
	ForceTransitionMessage(ctx context.Context, messageUUID string, to workflow.Status) error
	ForceTransitionAttachment(ctx context.Context, attachmentID int64, to workflow.Status) error
}

// Rescanner wakes the ingestion poller. Satisfied by *pipeline.Poller.
type Rescanner interface {
	TriggerRescan()
}

// Handler serves the admin endpoints.
type Handler struct {
	db       Pinger
	redis    Pinger
	statuses StatusStore
	poller   Rescanner
}

// NewHandler creates the admin handler. redis and poller may be nil
// when the corresponding subsystem is not configured.
func NewHandler(db Pinger, redis Pinger, statuses StatusStore, poller Rescanner) *Handler {
	return &Handler{
		db:       db,
		redis:    redis,
		statuses: statuses,
		poller:   poller,
	}
}

// ServeHealth reports connectivity to the backing stores. Degraded
// dependencies turn the response 503 but each check is reported
// individually.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	type health struct {
		Status   string `json:"status"`
		Postgres string `json:"postgres"`
		Redis    string `json:"redis,omitempty"`
	}

	resp := health{Status: "ok", Postgres: "ok"}
	code := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Postgres = err.Error()
		code = http.StatusServiceUnavailable
	}
	if h.redis != nil {
		resp.Redis = "ok"
		if err := h.redis.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Redis = err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, resp)
}

// forceStatusRequest is the body of a force-status POST.
type forceStatusRequest struct {
	Status string `json:"status"`
}

// ServeForceStatus handles POST /admin/messages/{uuid}/force-status
// and POST /admin/attachments/{id}/force-status. This is the operator
// path around workflow validation, used to requeue stuck rows.
func (h *Handler) ServeForceStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	kind, id, err := parseForceStatusPath(r.URL.Path)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var req forceStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, `body must be {"status": "<state>"}`)
		return
	}

	to := workflow.Status(req.Status)
	switch kind {
	case "messages":
		err = h.statuses.ForceTransitionMessage(r.Context(), id, to)
	case "attachments":
		var attachmentID int64
		attachmentID, err = strconv.ParseInt(id, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "attachment id must be numeric")
			return
		}
		err = h.statuses.ForceTransitionAttachment(r.Context(), attachmentID, to)
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": req.Status})
	case errors.Is(err, workflow.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

// ServeRescan handles POST /admin/rescan by waking the poller.
func (h *Handler) ServeRescan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if h.poller == nil {
		writeError(w, http.StatusConflict, "no poller running")
		return
	}
	h.poller.TriggerRescan()
	slog.Info("rescan triggered via admin endpoint")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "rescan scheduled"})
}

// parseForceStatusPath extracts the target from
// "/admin/{messages|attachments}/{id}/force-status".
func parseForceStatusPath(path string) (kind, id string, err error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 4 || parts[0] != "admin" || parts[3] != "force-status" {
		return "", "", fmt.Errorf("unexpected path: %s", path)
	}
	if parts[1] != "messages" && parts[1] != "attachments" {
		return "", "", fmt.Errorf("unknown resource %q", parts[1])
	}
	if parts[2] == "" {
		return "", "", fmt.Errorf("missing id")
	}
	return parts[1], parts[2], nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// Mux returns the admin routing table.
func Mux(handler *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handler.ServeHealth)
	mux.HandleFunc("/admin/messages/", handler.ServeForceStatus)
	mux.HandleFunc("/admin/attachments/", handler.ServeForceStatus)
	mux.HandleFunc("/admin/rescan", handler.ServeRescan)
	return mux
}

// Serve starts the admin HTTP server on the given port.
// It binds the port immediately and signals readiness via the returned
// channel before starting to accept connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	server := &http.Server{
		Handler: Mux(handler),
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind admin port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("admin server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("admin server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("admin server error", "error", err)
		}
	}()

	return ready, nil
}
