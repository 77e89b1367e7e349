// Watchdial - Playback Session Telemetry and Reporting
// Copyright 2026 Watchdial contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/watchdial/watchdial

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/watchdial/watchdial/internal/config"
	"github.com/watchdial/watchdial/internal/models"
	"github.com/watchdial/watchdial/internal/reports"
)

// fakeReportStore backs the real reporting engine with canned aggregates.
type fakeReportStore struct {
	dayRows   []models.UsageDayRow
	breakdown []models.BreakdownRow
	summaries []models.UserSummary
}

func (f *fakeReportStore) GetUsageForUser(context.Context, string, string, []string, int) ([]models.ItemActivityRow, error) {
	return nil, nil
}

func (f *fakeReportStore) GetUsageForDays(context.Context, string, string, []string, int) ([]models.UsageDayRow, error) {
	return f.dayRows, nil
}

func (f *fakeReportStore) GetHourlyCounts(context.Context, string, string, []string, int) (map[string]int, error) {
	return map[string]int{}, nil
}

func (f *fakeReportStore) GetBreakdown(context.Context, string, string, string, int) ([]models.BreakdownRow, error) {
	return f.breakdown, nil
}

func (f *fakeReportStore) GetTvShowsBreakdown(context.Context, string, string, int) ([]models.BreakdownRow, error) {
	return f.breakdown, nil
}

func (f *fakeReportStore) GetMoviesBreakdown(context.Context, string, string, int) ([]models.BreakdownRow, error) {
	return f.breakdown, nil
}

func (f *fakeReportStore) GetDurationBuckets(context.Context, string, string, []string, int) (map[int]int, error) {
	return map[int]int{}, nil
}

func (f *fakeReportStore) GetUserSummaries(context.Context, string, string, int) ([]models.UserSummary, error) {
	return f.summaries, nil
}

// fakeManagementStore implements the handler-facing store surface.
type fakeManagementStore struct {
	pingErr     error
	types       []string
	ignored     []string
	manageCalls []string
	queryResult *models.CustomQueryResult
}

func (f *fakeManagementStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeManagementStore) GetTypeFilterList(context.Context) ([]string, error) {
	return f.types, nil
}

func (f *fakeManagementStore) GetUserList(context.Context) ([]string, error) {
	return f.ignored, nil
}

func (f *fakeManagementStore) ManageUserList(_ context.Context, action, userID string) error {
	f.manageCalls = append(f.manageCalls, action+":"+userID)
	return nil
}

func (f *fakeManagementStore) RemoveUnknownUsers(context.Context, []string) (int64, error) {
	return 3, nil
}

func (f *fakeManagementStore) ExportRawData(context.Context) ([]byte, error) {
	return []byte("[]"), nil
}

func (f *fakeManagementStore) ImportRawData(context.Context, []byte) (int, error) {
	return 2, nil
}

func (f *fakeManagementStore) RunCustomQuery(context.Context, string) (*models.CustomQueryResult, error) {
	if f.queryResult != nil {
		return f.queryResult, nil
	}
	return &models.CustomQueryResult{Columns: []string{"n"}, Rows: [][]any{{1}}}, nil
}

type fakeSink struct {
	events []models.SessionEvent
}

func (f *fakeSink) HandleEvent(_ context.Context, event *models.SessionEvent) error {
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeSink) ActiveSessions() int { return len(f.events) }

// fakeResolver maps user ids to display names from a fixed table.
type fakeResolver struct {
	names map[string]string
}

func (f *fakeResolver) DisplayName(_ context.Context, userID string) string {
	return f.names[userID]
}

func newTestRouter(store *fakeManagementStore, reportStore *fakeReportStore, sink *fakeSink, resolver Resolver) http.Handler {
	engine := reports.NewEngine(reportStore)
	handler := NewHandler(store, engine, sink, resolver, 1000)
	return NewRouter(handler, config.APIConfig{
		RateLimitReqs:   1000,
		RateLimitWindow: time.Minute,
	}).Setup()
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	h := newTestRouter(&fakeManagementStore{}, &fakeReportStore{}, &fakeSink{}, nil)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %v, expected %v", rec.Code, http.StatusOK)
	}
	resp := decodeResponse(t, rec)
	if resp.Status != "success" {
		t.Errorf("response status = %v, expected success", resp.Status)
	}
}

func TestIngestEvent(t *testing.T) {
	sink := &fakeSink{}
	h := newTestRouter(&fakeManagementStore{}, &fakeReportStore{}, sink, nil)

	body := `{"kind":"start","device_id":"d1","user_ids":["u1"],"item":{"id":"i1","name":"Movie","type":"Movie"}}`
	rec := doRequest(t, h, http.MethodPost, "/api/v1/events", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %v, expected %v: %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	if len(sink.events) != 1 {
		t.Fatalf("sink events = %v, expected 1", len(sink.events))
	}
	if sink.events[0].Kind != models.EventStart {
		t.Errorf("event kind = %v, expected start", sink.events[0].Kind)
	}
}

func TestIngestEventRejectsUnknownKind(t *testing.T) {
	sink := &fakeSink{}
	h := newTestRouter(&fakeManagementStore{}, &fakeReportStore{}, sink, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/events", `{"kind":"pause"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %v, expected %v", rec.Code, http.StatusBadRequest)
	}
	if len(sink.events) != 0 {
		t.Errorf("sink events = %v, expected 0", len(sink.events))
	}
}

func TestUsageDaysSortsByDisplayName(t *testing.T) {
	reportStore := &fakeReportStore{
		dayRows: []models.UsageDayRow{
			{UserID: "user-a", Date: "2024-01-10", Count: 1},
			{UserID: "user-b", Date: "2024-01-10", Count: 2},
		},
	}
	resolver := &fakeResolver{names: map[string]string{
		"user-a": "zoe",
		"user-b": "Alice",
	}}
	h := newTestRouter(&fakeManagementStore{}, reportStore, &fakeSink{}, resolver)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/reports/usage-days?days=1&end=2024-01-10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %v, expected %v: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	resp := decodeResponse(t, rec)

	raw, _ := json.Marshal(resp.Data)
	var groups []userUsagePayload
	if err := json.Unmarshal(raw, &groups); err != nil {
		t.Fatalf("failed to decode groups: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("len(groups) = %v, expected 3", len(groups))
	}
	// Case-insensitive display name order, labels group last.
	if groups[0].UserName != "Alice" || groups[1].UserName != "zoe" {
		t.Errorf("group order = %v, %v, expected Alice, zoe", groups[0].UserName, groups[1].UserName)
	}
	if groups[2].UserID != models.LabelsUserID {
		t.Errorf("last group = %v, expected %v", groups[2].UserID, models.LabelsUserID)
	}
}

func TestBreakdownRejectsUnknownDimension(t *testing.T) {
	h := newTestRouter(&fakeManagementStore{}, &fakeReportStore{}, &fakeSink{}, nil)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/reports/breakdown/NotADimension", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %v, expected %v", rec.Code, http.StatusBadRequest)
	}
	resp := decodeResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != "REPORT_ERROR" {
		t.Errorf("error = %+v, expected REPORT_ERROR", resp.Error)
	}
}

func TestBreakdownResolvesUserLabels(t *testing.T) {
	reportStore := &fakeReportStore{
		breakdown: []models.BreakdownRow{
			{Label: "user-a", Count: 5},
			{Label: "", Count: 1},
		},
	}
	resolver := &fakeResolver{names: map[string]string{"user-a": "Alice"}}
	h := newTestRouter(&fakeManagementStore{}, reportStore, &fakeSink{}, resolver)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/reports/breakdown/UserId", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %v, expected %v", rec.Code, http.StatusOK)
	}

	raw, _ := json.Marshal(decodeResponse(t, rec).Data)
	var rows []models.BreakdownRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		t.Fatalf("failed to decode rows: %v", err)
	}
	if rows[0].Label != "Alice" {
		t.Errorf("rows[0].Label = %v, expected Alice", rows[0].Label)
	}
	// The unknown sentinel is never resolved.
	if rows[1].Label != models.UnknownLabel {
		t.Errorf("rows[1].Label = %v, expected %v", rows[1].Label, models.UnknownLabel)
	}
}

func TestManageIgnoredUser(t *testing.T) {
	store := &fakeManagementStore{}
	h := newTestRouter(store, &fakeReportStore{}, &fakeSink{}, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/users/ignored", `{"action":"add","user_id":"u1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %v, expected %v: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if len(store.manageCalls) != 1 || store.manageCalls[0] != "add:u1" {
		t.Errorf("manage calls = %v, expected [add:u1]", store.manageCalls)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/v1/users/ignored", `{"action":"add"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %v, expected %v for missing user_id", rec.Code, http.StatusBadRequest)
	}
}

func TestCustomQueryThrottled(t *testing.T) {
	store := &fakeManagementStore{}
	engine := reports.NewEngine(&fakeReportStore{})
	handler := NewHandler(store, engine, &fakeSink{}, nil, 1)
	h := NewRouter(handler, config.APIConfig{RateLimitReqs: 1000, RateLimitWindow: time.Minute}).Setup()

	rec := doRequest(t, h, http.MethodPost, "/api/v1/query", `{"query":"SELECT 1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("first query status = %v, expected %v: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodPost, "/api/v1/query", `{"query":"SELECT 1"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second query status = %v, expected %v", rec.Code, http.StatusTooManyRequests)
	}
}

func TestBackupRoundTripEndpoints(t *testing.T) {
	h := newTestRouter(&fakeManagementStore{}, &fakeReportStore{}, &fakeSink{}, nil)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/backup/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %v, expected %v", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "attachment") {
		t.Errorf("Content-Disposition = %v, expected attachment", got)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/v1/backup/import", "[]")
	if rec.Code != http.StatusOK {
		t.Fatalf("import status = %v, expected %v: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

// fakeDirectory is a resolver that can also enumerate known accounts.
type fakeDirectory struct {
	fakeResolver
	ids []string
}

func (f *fakeDirectory) KnownUserIDs(context.Context) ([]string, error) {
	return f.ids, nil
}

func TestPruneUnknownUsers(t *testing.T) {
	store := &fakeManagementStore{}
	h := newTestRouter(store, &fakeReportStore{}, &fakeSink{}, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/users/prune", `{"known_user_ids":["u1","u2"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %v, expected %v: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"records_removed":3`) {
		t.Errorf("body = %v, expected records_removed 3", rec.Body.String())
	}

	// Without ids and without a user directory the request is rejected.
	rec = doRequest(t, h, http.MethodPost, "/api/v1/users/prune", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %v, expected %v without known ids", rec.Code, http.StatusBadRequest)
	}

	// With a directory-capable resolver the ids come from the media server.
	dir := &fakeDirectory{ids: []string{"u1"}}
	h = newTestRouter(store, &fakeReportStore{}, &fakeSink{}, dir)
	rec = doRequest(t, h, http.MethodPost, "/api/v1/users/prune", `{}`)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %v, expected %v with directory fallback: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestTypeFilterListEmpty(t *testing.T) {
	h := newTestRouter(&fakeManagementStore{}, &fakeReportStore{}, &fakeSink{}, nil)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/types", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %v, expected %v", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("body = %v, expected empty data array", rec.Body.String())
	}
}
