package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"lab-report-server/internal/extraction"
	"lab-report-server/internal/utils"
)

// ExtractionHandler exposes the extraction program directly, outside
// the sample workflow. Useful for verifying a report parses before a
// sample exists, and for operational debugging.
type ExtractionHandler struct {
	Extractor extraction.Extractor
}

// NewExtractionHandler creates a new ExtractionHandler.
func NewExtractionHandler(ex extraction.Extractor) *ExtractionHandler {
	return &ExtractionHandler{Extractor: ex}
}

// ExtractRequest represents the request body for a direct extraction.
type ExtractRequest struct {
	FilePath   string `json:"filePath" binding:"required"`
	FileFormat string `json:"fileFormat" binding:"required"`
}

// ExtractData runs the extractor synchronously and returns its output.
// Unlike process-report this call blocks for the duration of the
// extraction, so it is kept off the sample state machine entirely.
func (h *ExtractionHandler) ExtractData(c *gin.Context) {
	var req ExtractRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	data, err := h.Extractor.Extract(c.Request.Context(), req.FilePath, req.FileFormat)
	if err != nil {
		var startErr *extraction.StartError
		var exitErr *extraction.ExitError
		var outputErr *extraction.OutputError
		switch {
		case errors.As(err, &exitErr), errors.As(err, &outputErr):
			utils.Error(c, http.StatusUnprocessableEntity, err.Error())
		case errors.As(err, &startErr):
			utils.InternalServerError(c, err.Error())
		default:
			utils.InternalServerError(c, err.Error())
		}
		return
	}

	utils.Success(c, "Extraction completed successfully", data)
}
