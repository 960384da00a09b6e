package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Fullstackdeveloper4545/aws/model"
	"github.com/Fullstackdeveloper4545/aws/service"
)

// FetchService is the orchestration surface the handler needs.
type FetchService interface {
	StartJob(ctx context.Context, bundleID int64, listURL, detailURL string, insecure bool) (string, error)
	Progress(ctx context.Context, jobID string) model.FetchJob
	FetchSingle(ctx context.Context, bundleID int64, initial, number string) (*model.WaybillRecord, error)
}

// WaybillLister lists persisted records for the dashboard.
type WaybillLister interface {
	ListWaybills(ctx context.Context, limit int) ([]model.WaybillRecord, error)
}

// FetchHandler exposes the bulk-fetch orchestration over HTTP: start a
// job, poll its progress, and fetch a single waybill synchronously.
type FetchHandler struct {
	fetcher FetchService
	store   WaybillLister
}

func NewFetchHandler(fetcher FetchService, store WaybillLister) *FetchHandler {
	return &FetchHandler{fetcher: fetcher, store: store}
}

type startFetchRequest struct {
	BundleID  int64  `json:"bundle_id"`
	ListURL   string `json:"list_url"`
	DetailURL string `json:"detail_url"`
	Insecure  bool   `json:"insecure"`
}

// StartFetch launches a background bulk fetch and returns the job id
// immediately; the frontend polls progress with it.
func (h *FetchHandler) StartFetch(c *gin.Context) {
	var req startFetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid JSON data"})
		return
	}
	if req.BundleID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Bundle ID is required"})
		return
	}

	jobID, err := h.fetcher.StartJob(c.Request.Context(), req.BundleID, req.ListURL, req.DetailURL, req.Insecure)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrBundleNotFound) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"success": false, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Fetch started",
		"job_id":  jobID,
	})
}

// GetProgress returns the last known state for a job. Unknown or evicted
// jobs report a terminal fallback state with the current record count.
func (h *FetchHandler) GetProgress(c *gin.Context) {
	jobID := c.Param("job_id")
	state := h.fetcher.Progress(c.Request.Context(), jobID)

	c.JSON(http.StatusOK, gin.H{
		"success":              true,
		"done":                 state.Done,
		"total":                state.Total,
		"processed":            state.Processed,
		"successful":           state.Successful,
		"failed":               state.Failed,
		"total_waybills_in_db": state.TotalInDB,
		"message":              state.Message,
	})
}

type fetchWaybillRequest struct {
	BundleID         int64  `json:"bundle_id"`
	EquipmentInitial string `json:"equipment_initial"`
	EquipmentNumber  string `json:"equipment_number"`
}

// FetchWaybill fetches one detail record synchronously, bypassing job
// orchestration but sharing the same session and retry machinery.
func (h *FetchHandler) FetchWaybill(c *gin.Context) {
	var req fetchWaybillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid JSON data"})
		return
	}

	initial := strings.TrimSpace(req.EquipmentInitial)
	number := strings.TrimSpace(req.EquipmentNumber)
	if initial == "" || number == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Equipment initial and number are required"})
		return
	}
	if req.BundleID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Bundle ID is required"})
		return
	}

	record, err := h.fetcher.FetchSingle(c.Request.Context(), req.BundleID, initial, number)
	if err != nil {
		status := http.StatusBadRequest
		var certErr *service.CertificateError
		if errors.As(err, &certErr) {
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Successfully fetched waybill for " + record.Equipment.String(),
		"record_id": record.ID,
	})
}

// ListWaybills returns recent records without their payloads.
func (h *FetchHandler) ListWaybills(c *gin.Context) {
	records, err := h.store.ListWaybills(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "waybills": records})
}
