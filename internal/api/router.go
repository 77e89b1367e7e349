// Watchdial - Playback Session Telemetry and Reporting
// Copyright 2026 Watchdial contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchdial/watchdial

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/watchdial/watchdial/internal/config"
	"github.com/watchdial/watchdial/internal/metrics"
)

// Router assembles the HTTP surface: reports, session event intake,
// management operations and observability endpoints.
type Router struct {
	handler *Handler
	cfg     config.APIConfig
}

// NewRouter creates the API router.
func NewRouter(handler *Handler, cfg config.APIConfig) *Router {
	return &Router{handler: handler, cfg: cfg}
}

// Setup builds the chi handler tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: router.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}))

	r.Get("/api/v1/health", router.handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.Limit(
			router.cfg.RateLimitReqs,
			router.cfg.RateLimitWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				metrics.RecordRateLimitHit(r.URL.Path)
				respondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
			}),
		))

		r.Post("/events", router.handler.IngestEvent)

		r.Route("/reports", func(r chi.Router) {
			r.Get("/users/{userID}", router.handler.UserUsage)
			r.Get("/usage-days", router.handler.UsageDays)
			r.Get("/hourly", router.handler.HourlyUsage)
			r.Get("/breakdown/{dimension}", router.handler.Breakdown)
			r.Get("/tv-shows", router.handler.TvShows)
			r.Get("/movies", router.handler.Movies)
			r.Get("/duration-histogram", router.handler.DurationHistogram)
			r.Get("/user-summaries", router.handler.UserSummaries)
		})

		r.Get("/types", router.handler.TypeFilterList)

		r.Route("/users", func(r chi.Router) {
			r.Get("/ignored", router.handler.IgnoredUsers)
			r.Post("/ignored", router.handler.ManageIgnoredUser)
			r.Post("/prune", router.handler.PruneUnknownUsers)
		})

		r.Route("/backup", func(r chi.Router) {
			r.Get("/export", router.handler.ExportBackup)
			r.Post("/import", router.handler.ImportBackup)
		})

		r.Post("/query", router.handler.CustomQuery)
	})

	return r
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

// requestMetrics records per-request Prometheus metrics. The route pattern
// is used as the endpoint label to keep cardinality bounded.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RecordAPIRequest(r.Method, endpoint, rec.status, time.Since(start))
	})
}
