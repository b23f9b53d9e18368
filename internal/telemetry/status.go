/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// StatusFunc returns a JSON-serializable snapshot of the running session.
type StatusFunc func() any

// NewStatusRouter builds the local status server: /healthz, /status and /metrics.
func NewStatusRouter(status StatusFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var body any = map[string]any{}
		if status != nil {
			body = status()
		}
		if err := json.NewEncoder(w).Encode(body); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	r.Method(http.MethodGet, "/metrics", Handler())
	return r
}
