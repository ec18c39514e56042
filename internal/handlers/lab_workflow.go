package handlers

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"lab-report-server/internal/models"
	"lab-report-server/internal/store"
	"lab-report-server/internal/utils"
	"lab-report-server/internal/workflow"
)

// maxReportSize caps uploaded report files at 5MB.
const maxReportSize = 5 << 20

// LabWorkflowHandler handles sample lifecycle and report processing requests.
type LabWorkflowHandler struct {
	Workflow  *workflow.Service
	Store     *store.Store
	UploadDir string
}

// NewLabWorkflowHandler creates a new LabWorkflowHandler.
func NewLabWorkflowHandler(wf *workflow.Service, st *store.Store, uploadDir string) *LabWorkflowHandler {
	return &LabWorkflowHandler{Workflow: wf, Store: st, UploadDir: uploadDir}
}

// respondWorkflowError maps store/workflow errors onto the response envelope.
func respondWorkflowError(c *gin.Context, err error) {
	var validationErr *store.ValidationError
	switch {
	case errors.As(err, &validationErr):
		utils.BadRequest(c, validationErr.Message)
	case errors.Is(err, store.ErrSampleNotFound),
		errors.Is(err, store.ErrTestTypeNotFound),
		errors.Is(err, store.ErrResultNotFound):
		utils.NotFound(c, err.Error())
	case errors.Is(err, store.ErrAlreadyProcessing):
		utils.Conflict(c, err.Error())
	default:
		utils.InternalServerError(c, err.Error())
	}
}

// CreateLabSampleRequest represents the request body for sample intake.
type CreateLabSampleRequest struct {
	LabID        string `json:"labId" binding:"required"`
	Barcode      string `json:"barcode" binding:"required"`
	TestTypeID   string `json:"testTypeId" binding:"required"`
	SampleType   string `json:"sampleType" binding:"required"`
	Volume       string `json:"volume"`
	Container    string `json:"container"`
	PatientID    string `json:"patientId" binding:"required"`
	ExpectedTime string `json:"expectedTime" binding:"required"`
	Priority     string `json:"priority"`
	Notes        string `json:"notes"`
}

// CreateLabSample handles registering a new physical sample.
func (h *LabWorkflowHandler) CreateLabSample(c *gin.Context) {
	var req CreateLabSampleRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	expectedTime, err := time.Parse(time.RFC3339, req.ExpectedTime)
	if err != nil {
		utils.BadRequest(c, "Invalid expectedTime format. Please use ISO 8601 format (YYYY-MM-DDTHH:MM:SSZ)")
		return
	}

	sample, err := h.Workflow.CreateLabSample(c.Request.Context(), workflow.CreateLabSampleInput{
		LabID:        req.LabID,
		Barcode:      req.Barcode,
		TestTypeID:   req.TestTypeID,
		SampleType:   req.SampleType,
		Volume:       req.Volume,
		Container:    req.Container,
		PatientID:    req.PatientID,
		ExpectedTime: expectedTime,
		Priority:     models.SamplePriority(req.Priority),
		Notes:        req.Notes,
	})
	if err != nil {
		respondWorkflowError(c, err)
		return
	}

	utils.Created(c, "Lab sample created successfully", sample)
}

// GetLabSamples handles listing samples, optionally filtered by patient.
func (h *LabWorkflowHandler) GetLabSamples(c *gin.Context) {
	samples, err := h.Store.ListSamples(c.Query("patientId"))
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	utils.Success(c, "Lab samples retrieved successfully", samples)
}

// GetLabSampleWithResults handles fetching one sample plus its results.
func (h *LabWorkflowHandler) GetLabSampleWithResults(c *gin.Context) {
	sampleData, err := h.Workflow.GetLabSampleWithResults(c.Param("labSampleId"))
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	utils.Success(c, "Lab sample data retrieved successfully", sampleData)
}

// UpdateLabSampleRequest represents the patch surface for a sample.
type UpdateLabSampleRequest struct {
	Status   *string `json:"status"`
	Priority *string `json:"priority"`
	Notes    *string `json:"notes"`
}

// UpdateLabSample handles partial updates of status, priority and notes.
func (h *LabWorkflowHandler) UpdateLabSample(c *gin.Context) {
	var req UpdateLabSampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "Invalid request payload: "+err.Error())
		return
	}

	input := store.UpdateSampleInput{Notes: req.Notes}
	if req.Status != nil {
		status := models.SampleStatus(*req.Status)
		input.Status = &status
	}
	if req.Priority != nil {
		priority := models.SamplePriority(*req.Priority)
		input.Priority = &priority
	}

	sample, err := h.Store.UpdateSample(c.Param("labSampleId"), input)
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	utils.Success(c, "Lab sample updated successfully", sample)
}

// ProcessLabReport kicks off report processing for a sample. The report
// arrives either as a multipart upload or as a filePath reference. The
// response is an immediate acknowledgement; the outcome is observable
// only through subsequent status queries.
func (h *LabWorkflowHandler) ProcessLabReport(c *gin.Context) {
	reportFilePath, ok := h.resolveReportFile(c)
	if !ok {
		return
	}

	ack, err := h.Workflow.ProcessLabReport(c.Request.Context(), c.Param("labSampleId"), reportFilePath)
	if err != nil {
		respondWorkflowError(c, err)
		return
	}

	utils.Success(c, "Lab report processing started", ack)
}

// GetProcessingStatus handles the status projection endpoint.
func (h *LabWorkflowHandler) GetProcessingStatus(c *gin.Context) {
	status, err := h.Workflow.GetProcessingStatus(c.Param("labSampleId"))
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	utils.Success(c, "Lab sample status retrieved successfully", status)
}

// GetPatientLabHistory handles the aggregated per-patient report.
func (h *LabWorkflowHandler) GetPatientLabHistory(c *gin.Context) {
	history, err := h.Workflow.GetPatientLabHistory(c.Param("patientId"))
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	utils.Success(c, "Patient lab history retrieved successfully", history)
}

// resolveReportFile returns the path of the report to process: an
// uploaded file saved under UploadDir, or an explicit filePath from the
// form/body. Writes the error response itself when it returns false.
func (h *LabWorkflowHandler) resolveReportFile(c *gin.Context) (string, bool) {
	file, err := c.FormFile("reportFilePath")
	if err != nil {
		// No upload; fall back to a path reference.
		if path := c.PostForm("filePath"); path != "" {
			return path, true
		}
		var body struct {
			FilePath string `json:"filePath"`
		}
		if err := c.ShouldBindJSON(&body); err == nil && body.FilePath != "" {
			return body.FilePath, true
		}
		utils.BadRequest(c, "File upload or filePath is required")
		return "", false
	}

	if file.Size > maxReportSize {
		utils.BadRequest(c, "Report file exceeds the 5MB limit")
		return "", false
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	switch ext {
	case ".pdf", ".jpg", ".jpeg", ".png":
	default:
		utils.BadRequest(c, "File type not supported: "+ext)
		return "", false
	}

	dest := filepath.Join(h.UploadDir, fmt.Sprintf("%d%s", time.Now().UnixNano(), ext))
	if err := c.SaveUploadedFile(file, dest); err != nil {
		utils.InternalServerError(c, "Failed to store uploaded report: "+err.Error())
		return "", false
	}
	return dest, true
}
