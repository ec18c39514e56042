package routes

import (
	"github.com/gin-gonic/gin"

	"lab-report-server/internal/config"
	"lab-report-server/internal/extraction"
	"lab-report-server/internal/handlers"
	"lab-report-server/internal/middleware"
	"lab-report-server/internal/models"
	"lab-report-server/internal/store"
	"lab-report-server/internal/workflow"
)

// SetupRoutes configures the application routes.
func SetupRoutes(router *gin.Engine, wf *workflow.Service, st *store.Store, ex extraction.Extractor, cfg *config.Config) {
	// Initialize handlers
	labWorkflowHandler := handlers.NewLabWorkflowHandler(wf, st, cfg.UploadDir)
	testTypeHandler := handlers.NewTestTypeHandler(st)
	extractionHandler := handlers.NewExtractionHandler(ex)

	// All lab report endpoints require a token issued by the auth service
	api := router.Group("/api/v1/labReport")
	api.Use(middleware.AuthMiddleware(cfg))
	{
		// Lab sample workflow
		workflowRoutes := api.Group("/workflow")
		{
			workflowRoutes.POST("/samples", labWorkflowHandler.CreateLabSample)
			workflowRoutes.GET("/samples", labWorkflowHandler.GetLabSamples)
			workflowRoutes.GET("/samples/:labSampleId", labWorkflowHandler.GetLabSampleWithResults)
			workflowRoutes.PATCH("/samples/:labSampleId", labWorkflowHandler.UpdateLabSample)
			workflowRoutes.GET("/samples/:labSampleId/status", labWorkflowHandler.GetProcessingStatus)

			// Lab report processing (returns immediately; poll the status endpoint)
			workflowRoutes.POST("/samples/:labSampleId/process-report", labWorkflowHandler.ProcessLabReport)

			// Patient lab history
			workflowRoutes.GET("/patients/:patientId/history", labWorkflowHandler.GetPatientLabHistory)
		}

		// Test type catalog
		reportRoutes := api.Group("/report")
		{
			reportRoutes.POST("/test-types", middleware.RoleAuthMiddleware(models.RoleAdmin), testTypeHandler.CreateTestType)
			reportRoutes.GET("/test-types", testTypeHandler.GetTestTypes)
			reportRoutes.GET("/test-types/:id", testTypeHandler.GetTestTypeByID)
		}

		// Direct extraction (diagnostic surface, lab staff only)
		api.POST("/extract", middleware.RoleAuthMiddleware(models.RoleAdmin, models.RoleLabTechnician), extractionHandler.ExtractData)
	}

	// Simple health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "UP"})
	})
}
