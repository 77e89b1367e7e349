// Watchdial - Playback Session Telemetry and Reporting
// Copyright 2026 Watchdial contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchdial/watchdial

// Package api exposes the playback reports and the session event intake
// over HTTP. It is a thin boundary: report shaping lives in the reports
// engine, session semantics in the monitor, and this package only parses
// parameters, resolves display names and writes envelopes.
package api

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/watchdial/watchdial/internal/logging"
	"github.com/watchdial/watchdial/internal/metrics"
	"github.com/watchdial/watchdial/internal/models"
	"github.com/watchdial/watchdial/internal/reports"
)

// defaultReportDays is the window length when the request names none.
const defaultReportDays = 28

// Store is the management surface of the playback store used directly by
// handlers. *database.DB satisfies it.
type Store interface {
	Ping(ctx context.Context) error
	GetTypeFilterList(ctx context.Context) ([]string, error)
	GetUserList(ctx context.Context) ([]string, error)
	ManageUserList(ctx context.Context, action, userID string) error
	RemoveUnknownUsers(ctx context.Context, knownUserIDs []string) (int64, error)
	ExportRawData(ctx context.Context) ([]byte, error)
	ImportRawData(ctx context.Context, data []byte) (int, error)
	RunCustomQuery(ctx context.Context, query string) (*models.CustomQueryResult, error)
}

// EventSink receives playback session events. *monitor.Monitor satisfies it.
type EventSink interface {
	HandleEvent(ctx context.Context, event *models.SessionEvent) error
	ActiveSessions() int
}

// Resolver maps opaque user ids to display names at the API boundary. The
// core never resolves identities itself.
type Resolver interface {
	DisplayName(ctx context.Context, userID string) string
}

// Handler carries the dependencies of all HTTP handlers.
type Handler struct {
	store    Store
	engine   *reports.Engine
	sink     EventSink
	resolver Resolver

	// queryLimiter throttles ad-hoc queries, which bypass all prepared
	// report shapes.
	queryLimiter *rate.Limiter
}

// NewHandler creates the API handler set. resolver may be nil, in which
// case opaque ids pass through unresolved.
func NewHandler(store Store, engine *reports.Engine, sink EventSink, resolver Resolver, customQueryPerMinute int) *Handler {
	if customQueryPerMinute <= 0 {
		customQueryPerMinute = 6
	}
	return &Handler{
		store:        store,
		engine:       engine,
		sink:         sink,
		resolver:     resolver,
		queryLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(customQueryPerMinute)), customQueryPerMinute),
	}
}

func (h *Handler) displayName(ctx context.Context, userID string) string {
	if h.resolver == nil {
		return userID
	}
	if name := h.resolver.DisplayName(ctx, userID); name != "" {
		return name
	}
	return userID
}

// Health reports store reachability and the live session count.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	respondJSON(w, httpStatus, &models.APIResponse{
		Status: "success",
		Data: map[string]any{
			"status":          status,
			"active_sessions": h.sink.ActiveSessions(),
		},
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
	})
}

// IngestEvent accepts one playback session event.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var event models.SessionEvent
	if err := decodeBody(r, &event); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	switch event.Kind {
	case models.EventStart, models.EventProgress, models.EventStop:
	default:
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "kind must be start, progress or stop", nil)
		return
	}

	if err := h.sink.HandleEvent(r.Context(), &event); err != nil {
		respondError(w, http.StatusInternalServerError, "EVENT_ERROR", "Failed to process session event", err)
		return
	}
	respondJSON(w, http.StatusAccepted, &models.APIResponse{
		Status:   "success",
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
	})
}

// windowFromRequest builds the report window from query parameters.
func windowFromRequest(r *http.Request) (reports.Window, error) {
	days, err := intParam(r, "days", defaultReportDays)
	if err != nil {
		return reports.Window{}, err
	}
	tz, err := intParam(r, "tz", 0)
	if err != nil {
		return reports.Window{}, err
	}
	end, err := endDateParam(r)
	if err != nil {
		return reports.Window{}, err
	}
	return reports.Window{Days: days, End: end, TzOffsetMin: tz}, nil
}

// UserUsage lists one user's playback rows on a single date.
func (h *Handler) UserUsage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	date := r.URL.Query().Get("date")
	tz, err := intParam(r, "tz", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	rows, err := h.engine.UsageForUser(r.Context(), date, userID, typesParam(r), tz)
	if err != nil {
		respondError(w, http.StatusBadRequest, "REPORT_ERROR", err.Error(), err)
		return
	}
	respondOK(w, rows)
}

// userUsagePayload is a usage-for-days group with the display name resolved
// at the boundary.
type userUsagePayload struct {
	UserID   string         `json:"user_id"`
	UserName string         `json:"user_name"`
	Usage    map[string]int `json:"user_usage"`
}

// UsageDays returns the per-user daily usage report. mode=time selects
// summed play seconds over play counts. Groups are ordered by display name
// case-insensitively with the synthetic labels group last.
func (h *Handler) UsageDays(w http.ResponseWriter, r *http.Request) {
	window, err := windowFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	byDuration := r.URL.Query().Get("mode") == "time"

	groups, err := h.engine.UsageForDays(r.Context(), window, typesParam(r), byDuration)
	if err != nil {
		respondError(w, http.StatusBadRequest, "REPORT_ERROR", err.Error(), err)
		return
	}

	payload := make([]userUsagePayload, 0, len(groups))
	var labels *userUsagePayload
	for _, group := range groups {
		entry := userUsagePayload{UserID: group.UserID, Usage: group.Usage}
		if group.UserID == models.LabelsUserID {
			entry.UserName = group.UserID
			labels = &entry
			continue
		}
		entry.UserName = h.displayName(r.Context(), group.UserID)
		payload = append(payload, entry)
	}
	sort.SliceStable(payload, func(i, j int) bool {
		return strings.ToLower(payload[i].UserName) < strings.ToLower(payload[j].UserName)
	})
	if labels != nil {
		payload = append(payload, *labels)
	}
	respondOK(w, payload)
}

// HourlyUsage returns the 168-bucket day-of-week/hour heatmap.
func (h *Handler) HourlyUsage(w http.ResponseWriter, r *http.Request) {
	window, err := windowFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	report, err := h.engine.HourlyUsage(r.Context(), window, typesParam(r))
	if err != nil {
		respondError(w, http.StatusBadRequest, "REPORT_ERROR", err.Error(), err)
		return
	}
	respondOK(w, report)
}

// Breakdown groups playback by the dimension named in the path.
func (h *Handler) Breakdown(w http.ResponseWriter, r *http.Request) {
	window, err := windowFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	dimension := chi.URLParam(r, "dimension")

	rows, err := h.engine.Breakdown(r.Context(), window, dimension)
	if err != nil {
		respondError(w, http.StatusBadRequest, "REPORT_ERROR", err.Error(), nil)
		return
	}
	if dimension == "UserId" {
		for i := range rows {
			if rows[i].Label != models.UnknownLabel {
				rows[i].Label = h.displayName(r.Context(), rows[i].Label)
			}
		}
	}
	respondOK(w, rows)
}

// TvShows groups episode playback by series.
func (h *Handler) TvShows(w http.ResponseWriter, r *http.Request) {
	window, err := windowFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	rows, err := h.engine.TvShows(r.Context(), window)
	if err != nil {
		respondError(w, http.StatusBadRequest, "REPORT_ERROR", err.Error(), err)
		return
	}
	respondOK(w, rows)
}

// Movies groups movie playback by item name.
func (h *Handler) Movies(w http.ResponseWriter, r *http.Request) {
	window, err := windowFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	rows, err := h.engine.Movies(r.Context(), window)
	if err != nil {
		respondError(w, http.StatusBadRequest, "REPORT_ERROR", err.Error(), err)
		return
	}
	respondOK(w, rows)
}

// DurationHistogram returns the session length distribution.
func (h *Handler) DurationHistogram(w http.ResponseWriter, r *http.Request) {
	window, err := windowFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	buckets, err := h.engine.DurationHistogram(r.Context(), window, typesParam(r))
	if err != nil {
		respondError(w, http.StatusBadRequest, "REPORT_ERROR", err.Error(), err)
		return
	}
	respondOK(w, buckets)
}

// userSummaryPayload is a user summary with the display name resolved.
type userSummaryPayload struct {
	models.UserSummary
	UserName string `json:"user_name"`
}

// UserSummaries returns the per-user activity overview.
func (h *Handler) UserSummaries(w http.ResponseWriter, r *http.Request) {
	window, err := windowFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	summaries, err := h.engine.UserSummaries(r.Context(), window)
	if err != nil {
		respondError(w, http.StatusBadRequest, "REPORT_ERROR", err.Error(), err)
		return
	}

	payload := make([]userSummaryPayload, 0, len(summaries))
	for _, summary := range summaries {
		payload = append(payload, userSummaryPayload{
			UserSummary: summary,
			UserName:    h.displayName(r.Context(), summary.UserID),
		})
	}
	respondOK(w, payload)
}

// TypeFilterList returns the distinct item types present in the store.
func (h *Handler) TypeFilterList(w http.ResponseWriter, r *http.Request) {
	types, err := h.store.GetTypeFilterList(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to list item types", err)
		return
	}
	if types == nil {
		types = []string{}
	}
	respondOK(w, types)
}

// IgnoredUsers lists the user ids excluded from tracking and reports.
func (h *Handler) IgnoredUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.GetUserList(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to list ignored users", err)
		return
	}
	if users == nil {
		users = []string{}
	}
	respondOK(w, users)
}

type manageUserRequest struct {
	Action string `json:"action"`
	UserID string `json:"user_id"`
}

// ManageIgnoredUser adds or removes one user id on the ignore list.
func (h *Handler) ManageIgnoredUser(w http.ResponseWriter, r *http.Request) {
	var req manageUserRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "user_id is required", nil)
		return
	}
	if err := h.store.ManageUserList(r.Context(), req.Action, req.UserID); err != nil {
		respondError(w, http.StatusBadRequest, "DATABASE_ERROR", err.Error(), err)
		return
	}
	respondOK(w, map[string]string{"action": req.Action, "user_id": req.UserID})
}

type pruneUsersRequest struct {
	KnownUserIDs []string `json:"known_user_ids"`
}

// userDirectory is the optional resolver extension that can enumerate the
// media server's current accounts.
type userDirectory interface {
	KnownUserIDs(ctx context.Context) ([]string, error)
}

// PruneUnknownUsers deletes playback history for user ids no longer known
// to the media server. The caller may supply the known ids directly; when
// it does not, they are fetched from the media server.
func (h *Handler) PruneUnknownUsers(w http.ResponseWriter, r *http.Request) {
	var req pruneUsersRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if len(req.KnownUserIDs) == 0 {
		dir, ok := h.resolver.(userDirectory)
		if !ok {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "known_user_ids is required", nil)
			return
		}
		ids, err := dir.KnownUserIDs(r.Context())
		if err != nil {
			respondError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "Failed to fetch user list from media server", err)
			return
		}
		req.KnownUserIDs = ids
	}
	removed, err := h.store.RemoveUnknownUsers(r.Context(), req.KnownUserIDs)
	if err != nil {
		respondError(w, http.StatusBadRequest, "DATABASE_ERROR", err.Error(), err)
		return
	}
	respondOK(w, map[string]int64{"records_removed": removed})
}

// ExportBackup streams the full record set as a JSON backup payload.
func (h *Handler) ExportBackup(w http.ResponseWriter, r *http.Request) {
	data, err := h.store.ExportRawData(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to export records", err)
		return
	}

	filename := "watchdial-backup-" + time.Now().UTC().Format("2006-01-02") + ".json"
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logging.Err(err).Msg("Failed to write backup payload")
	}
}

// ImportBackup loads a backup payload, skipping records already present.
func (h *Handler) ImportBackup(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	data, err := readBody(r, maxBackupBytes)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	imported, err := h.store.ImportRawData(r.Context(), data)
	if err != nil {
		respondError(w, http.StatusBadRequest, "IMPORT_ERROR", err.Error(), err)
		return
	}
	respondOK(w, map[string]int{"records_imported": imported})
}

type customQueryRequest struct {
	Query string `json:"query"`
}

// CustomQuery runs an ad-hoc read query against the record store.
func (h *Handler) CustomQuery(w http.ResponseWriter, r *http.Request) {
	if !h.queryLimiter.Allow() {
		metrics.CustomQueriesTotal.WithLabelValues("throttled").Inc()
		respondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many ad-hoc queries, retry later", nil)
		return
	}

	var req customQueryRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	result, err := h.store.RunCustomQuery(r.Context(), req.Query)
	if err != nil {
		metrics.CustomQueriesTotal.WithLabelValues("rejected").Inc()
		respondError(w, http.StatusBadRequest, "QUERY_ERROR", err.Error(), nil)
		return
	}
	if result.Message != "" {
		metrics.CustomQueriesTotal.WithLabelValues("failed").Inc()
	} else {
		metrics.CustomQueriesTotal.WithLabelValues("ok").Inc()
	}
	respondOK(w, result)
}
