package http

import "github.com/gin-gonic/gin"

// Register registers the assessment routes
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/upload", h.Upload)

	rg.POST("/assessments", h.CreateAssessment)
	rg.GET("/assessments", h.ListAssessments)
	rg.GET("/assessments/:id", h.GetAssessment)
	rg.DELETE("/assessments/:id", h.DeleteAssessment)
	rg.POST("/assessments/:id/reset", h.ResetAssessment)
	rg.POST("/assessments/:id/analyze", h.Analyze)
	rg.GET("/assessments/:id/findings", h.ListFindings)
	rg.GET("/assessments/:id/logs", h.ListLogs)
	rg.GET("/assessments/:id/data", h.GetData)
	rg.GET("/assessments/:id/events", h.StreamEvents)

	rg.GET("/config/ai", h.GetAIConfig)
	rg.POST("/config/ai", h.UpdateAIConfig)
}
