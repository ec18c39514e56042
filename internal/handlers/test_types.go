package handlers

import (
	"github.com/gin-gonic/gin"

	"lab-report-server/internal/models"
	"lab-report-server/internal/store"
	"lab-report-server/internal/utils"
)

// TestTypeHandler handles test-type catalog requests.
type TestTypeHandler struct {
	Store *store.Store
}

// NewTestTypeHandler creates a new TestTypeHandler.
func NewTestTypeHandler(st *store.Store) *TestTypeHandler {
	return &TestTypeHandler{Store: st}
}

// CreateTestTypeRequest represents the request body for a catalog entry.
type CreateTestTypeRequest struct {
	Value    string `json:"value" binding:"required"`
	Label    string `json:"label" binding:"required"`
	Category string `json:"category"`
}

// CreateTestType handles adding a catalog entry. Admin only.
func (h *TestTypeHandler) CreateTestType(c *gin.Context) {
	var req CreateTestTypeRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	testType := models.TestType{
		Value:    req.Value,
		Label:    req.Label,
		Category: req.Category,
	}
	if err := h.Store.CreateTestType(&testType); err != nil {
		respondWorkflowError(c, err)
		return
	}

	utils.Created(c, "Test type added successfully", testType)
}

// GetTestTypes handles listing the catalog.
func (h *TestTypeHandler) GetTestTypes(c *gin.Context) {
	types, err := h.Store.ListTestTypes()
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	utils.Success(c, "Test types retrieved successfully", types)
}

// GetTestTypeByID handles fetching one catalog entry.
func (h *TestTypeHandler) GetTestTypeByID(c *gin.Context) {
	testType, err := h.Store.GetTestType(c.Param("id"))
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	utils.Success(c, "Test type retrieved successfully", testType)
}
