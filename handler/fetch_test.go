package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Fullstackdeveloper4545/aws/model"
	"github.com/Fullstackdeveloper4545/aws/service"
)

type fakeFetchService struct {
	jobID    string
	startErr error

	lastBundleID int64
	lastListURL  string
	lastInsecure bool

	progress model.FetchJob

	record   *model.WaybillRecord
	fetchErr error

	lastInitial string
	lastNumber  string
}

func (f *fakeFetchService) StartJob(_ context.Context, bundleID int64, listURL, detailURL string, insecure bool) (string, error) {
	f.lastBundleID = bundleID
	f.lastListURL = listURL
	f.lastInsecure = insecure
	return f.jobID, f.startErr
}

func (f *fakeFetchService) Progress(_ context.Context, jobID string) model.FetchJob {
	state := f.progress
	state.JobID = jobID
	return state
}

func (f *fakeFetchService) FetchSingle(_ context.Context, _ int64, initial, number string) (*model.WaybillRecord, error) {
	f.lastInitial = initial
	f.lastNumber = number
	return f.record, f.fetchErr
}

type fakeLister struct {
	records []model.WaybillRecord
	err     error
}

func (f *fakeLister) ListWaybills(context.Context, int) ([]model.WaybillRecord, error) {
	return f.records, f.err
}

func setupFetchRouter(svc *fakeFetchService, lister *fakeLister) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewFetchHandler(svc, lister)

	router := gin.New()
	router.POST("/api/fetch/start", h.StartFetch)
	router.GET("/api/fetch/progress/:job_id", h.GetProgress)
	router.POST("/api/waybills/fetch", h.FetchWaybill)
	router.GET("/api/waybills", h.ListWaybills)
	return router
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	return body
}

func TestStartFetchSuccess(t *testing.T) {
	svc := &fakeFetchService{jobID: "fetch_7_abcd1234"}
	router := setupFetchRouter(svc, &fakeLister{})

	w := postJSON(router, "/api/fetch/start", gin.H{
		"bundle_id": 7,
		"list_url":  "https://upstream.test/v1/cars",
		"insecure":  true,
	})

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["job_id"] != "fetch_7_abcd1234" {
		t.Errorf("Unexpected job id: %v", body["job_id"])
	}
	if body["message"] != "Fetch started" {
		t.Errorf("Unexpected message: %v", body["message"])
	}
	if svc.lastBundleID != 7 || svc.lastListURL != "https://upstream.test/v1/cars" || !svc.lastInsecure {
		t.Errorf("Unexpected forwarded arguments: %+v", svc)
	}
}

func TestStartFetchValidation(t *testing.T) {
	router := setupFetchRouter(&fakeFetchService{}, &fakeLister{})

	// Missing bundle id.
	w := postJSON(router, "/api/fetch/start", gin.H{"list_url": "https://upstream.test"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for missing bundle id, got %d", w.Code)
	}

	// Malformed JSON.
	req := httptest.NewRequest(http.MethodPost, "/api/fetch/start", bytes.NewReader([]byte("{bad")))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for malformed JSON, got %d", w.Code)
	}
}

func TestStartFetchUnknownBundle(t *testing.T) {
	svc := &fakeFetchService{startErr: service.ErrBundleNotFound}
	router := setupFetchRouter(svc, &fakeLister{})

	w := postJSON(router, "/api/fetch/start", gin.H{"bundle_id": 99})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for unknown bundle, got %d", w.Code)
	}
}

func TestStartFetchCertificateFailure(t *testing.T) {
	svc := &fakeFetchService{startErr: &service.CertificateError{Reason: "could not decode client certificate bundle"}}
	router := setupFetchRouter(svc, &fakeLister{})

	w := postJSON(router, "/api/fetch/start", gin.H{"bundle_id": 7})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500 for certificate failure, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["success"] != false {
		t.Error("Expected success=false")
	}
}

func TestGetProgress(t *testing.T) {
	svc := &fakeFetchService{progress: model.FetchJob{
		Total:      10,
		Processed:  4,
		Successful: 3,
		Failed:     1,
		TotalInDB:  42,
		Message:    "Processing waybills...",
	}}
	router := setupFetchRouter(svc, &fakeLister{})

	req := httptest.NewRequest(http.MethodGet, "/api/fetch/progress/fetch_7_abcd1234", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["done"] != false || body["processed"] != float64(4) {
		t.Errorf("Unexpected progress body: %v", body)
	}
	if body["total_waybills_in_db"] != float64(42) {
		t.Errorf("Expected record count in progress body, got %v", body["total_waybills_in_db"])
	}
}

func TestFetchWaybillSuccess(t *testing.T) {
	svc := &fakeFetchService{record: &model.WaybillRecord{
		ID:        "record-1",
		Equipment: model.EquipmentPair{Initial: "UP", Number: "42"},
		FetchedAt: time.Now(),
	}}
	router := setupFetchRouter(svc, &fakeLister{})

	w := postJSON(router, "/api/waybills/fetch", gin.H{
		"bundle_id":         7,
		"equipment_initial": "  UP  ",
		"equipment_number":  "42",
	})

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["record_id"] != "record-1" {
		t.Errorf("Unexpected record id: %v", body["record_id"])
	}
	if svc.lastInitial != "UP" {
		t.Errorf("Expected trimmed initial, got %q", svc.lastInitial)
	}
}

func TestFetchWaybillValidation(t *testing.T) {
	router := setupFetchRouter(&fakeFetchService{}, &fakeLister{})

	cases := []struct {
		name string
		body gin.H
	}{
		{"blank initial", gin.H{"bundle_id": 7, "equipment_initial": "   ", "equipment_number": "42"}},
		{"blank number", gin.H{"bundle_id": 7, "equipment_initial": "UP", "equipment_number": ""}},
		{"missing bundle", gin.H{"equipment_initial": "UP", "equipment_number": "42"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postJSON(router, "/api/waybills/fetch", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}
}

func TestFetchWaybillErrorMapping(t *testing.T) {
	// Certificate trouble is a server-side failure.
	svc := &fakeFetchService{fetchErr: &service.CertificateError{Reason: "could not decode client certificate bundle"}}
	router := setupFetchRouter(svc, &fakeLister{})
	w := postJSON(router, "/api/waybills/fetch", gin.H{
		"bundle_id": 7, "equipment_initial": "UP", "equipment_number": "42",
	})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500 for certificate failure, got %d", w.Code)
	}

	// Upstream rejection maps to a client-visible 400.
	svc = &fakeFetchService{fetchErr: &service.UpstreamError{StatusCode: 404, Body: "no waybill"}}
	router = setupFetchRouter(svc, &fakeLister{})
	w = postJSON(router, "/api/waybills/fetch", gin.H{
		"bundle_id": 7, "equipment_initial": "UP", "equipment_number": "42",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for upstream rejection, got %d", w.Code)
	}
}

func TestListWaybills(t *testing.T) {
	lister := &fakeLister{records: []model.WaybillRecord{
		{ID: "a", Equipment: model.EquipmentPair{Initial: "UP", Number: "42"}},
		{ID: "b", Equipment: model.EquipmentPair{Initial: "BNSF", Number: "123456"}},
	}}
	router := setupFetchRouter(&fakeFetchService{}, lister)

	req := httptest.NewRequest(http.MethodGet, "/api/waybills", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	waybills, ok := body["waybills"].([]any)
	if !ok || len(waybills) != 2 {
		t.Errorf("Expected 2 waybills, got %v", body["waybills"])
	}
}

func TestListWaybillsError(t *testing.T) {
	router := setupFetchRouter(&fakeFetchService{}, &fakeLister{err: errors.New("db closed")})

	req := httptest.NewRequest(http.MethodGet, "/api/waybills", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
}
