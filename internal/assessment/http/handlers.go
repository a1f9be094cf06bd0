package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/GoSim-25-26J-441/adsec-backend/internal/analysis/provider"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/domain"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/service"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/logging"
	"github.com/gin-gonic/gin"
)

// respondError maps domain errors to status codes. Unknown errors are logged
// and reported with the generic message.
func respondError(c *gin.Context, err error, message string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrAssessmentNotFound), errors.Is(err, domain.ErrNoDocument):
		status = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, domain.ErrInvalidUpload), errors.Is(err, domain.ErrInvalidStatus), errors.Is(err, provider.ErrUnsupportedProvider):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, domain.ErrAnalysisRunning):
		status = http.StatusConflict
		message = err.Error()
	default:
		logging.NewLogger(c.Request.Context()).LogError(c.FullPath(), err)
	}
	c.JSON(status, gin.H{"success": false, "error": message})
}

// Upload accepts a multipart file or a JSON body carrying the document
func (h *Handler) Upload(c *gin.Context) {
	req, err := uploadRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	res, err := h.uploads.Upload(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, "failed to store upload")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"assessmentId":    res.AssessmentID,
		"generation":      res.Generation,
		"sizeBytes":       res.SizeBytes,
		"analysisStarted": res.AnalysisStarted,
		"message":         res.Message,
	})
}

func uploadRequest(c *gin.Context) (service.UploadRequest, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, service.MaxUploadBytes+(1<<20))

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			return service.UploadRequest{}, errors.New("file is required")
		}
		f, err := fh.Open()
		if err != nil {
			return service.UploadRequest{}, errors.New("failed to read uploaded file")
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return service.UploadRequest{}, errors.New("failed to read uploaded file")
		}
		return service.UploadRequest{
			AssessmentID: c.PostForm("assessmentId"),
			DomainName:   c.PostForm("domainName"),
			Filename:     fh.Filename,
			Data:         data,
		}, nil
	}

	var body struct {
		AssessmentID string       `json:"assessmentId"`
		DomainName   string       `json:"domainName"`
		JSONData     jsonOrString `json:"jsonData"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		return service.UploadRequest{}, errors.New("invalid request body")
	}
	if len(body.JSONData) == 0 {
		return service.UploadRequest{}, errors.New("jsonData is required")
	}
	return service.UploadRequest{
		AssessmentID: body.AssessmentID,
		DomainName:   body.DomainName,
		Filename:     "upload.json",
		Data:         body.JSONData,
	}, nil
}

// jsonOrString accepts the document inline or as a JSON-encoded string
type jsonOrString []byte

func (j *jsonOrString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*j = []byte(s)
		return nil
	}
	if string(b) == "null" {
		*j = nil
		return nil
	}
	*j = append((*j)[:0], b...)
	return nil
}

// CreateAssessment creates an empty assessment
func (h *Handler) CreateAssessment(c *gin.Context) {
	var body struct {
		Domain string `json:"domain"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	a, err := h.assessments.Create(c.Request.Context(), &domain.CreateAssessmentRequest{Domain: body.Domain})
	if err != nil {
		respondError(c, err, "failed to create assessment")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"assessment": a})
}

func (h *Handler) ListAssessments(c *gin.Context) {
	list, err := h.assessments.List(c.Request.Context())
	if err != nil {
		respondError(c, err, "failed to list assessments")
		return
	}
	if list == nil {
		list = []domain.Assessment{}
	}
	c.JSON(http.StatusOK, gin.H{"assessments": list})
}

func (h *Handler) GetAssessment(c *gin.Context) {
	a, err := h.assessments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "failed to get assessment")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"assessment": a,
		"running":    h.runs != nil && h.runs.Active(a.ID),
	})
}

func (h *Handler) DeleteAssessment(c *gin.Context) {
	if err := h.assessments.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err, "failed to delete assessment")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ResetAssessment clears findings and progress
func (h *Handler) ResetAssessment(c *gin.Context) {
	a, err := h.assessments.Reset(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "failed to reset assessment")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "assessment": a})
}

// Analyze starts an analysis in the background
func (h *Handler) Analyze(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if _, err := h.assessments.Get(ctx, id); err != nil {
		respondError(c, err, "failed to start analysis")
		return
	}
	if _, err := h.assessments.Document(ctx, id); err != nil {
		respondError(c, err, "failed to start analysis")
		return
	}
	if err := h.runs.Start(ctx, id); err != nil {
		respondError(c, err, "failed to start analysis")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "assessmentId": id, "message": "analysis started"})
}

// ListFindings returns findings ordered by severity
func (h *Handler) ListFindings(c *gin.Context) {
	findings, err := h.assessments.Findings(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "failed to list findings")
		return
	}
	if findings == nil {
		findings = []domain.Finding{}
	}
	c.JSON(http.StatusOK, gin.H{"findings": findings, "count": len(findings)})
}

func (h *Handler) ListLogs(c *gin.Context) {
	logs, err := h.assessments.Logs(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "failed to list logs")
		return
	}
	if logs == nil {
		logs = []domain.AssessmentLog{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// GetData returns the stored document as gzip bytes
func (h *Handler) GetData(c *gin.Context) {
	blob, err := h.assessments.Document(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "failed to load document")
		return
	}
	c.Header("Content-Encoding", "gzip")
	c.Header("X-Document-Generation", strconv.FormatInt(blob.Generation, 10))
	c.Data(http.StatusOK, "application/json", blob.Compressed)
}

func (h *Handler) GetAIConfig(c *gin.Context) {
	view, err := h.aiConfig.View(c.Request.Context())
	if err != nil {
		respondError(c, err, "failed to load ai config")
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) UpdateAIConfig(c *gin.Context) {
	var body service.AIConfigUpdate
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}
	if err := h.aiConfig.Update(c.Request.Context(), body); err != nil {
		respondError(c, err, "failed to update ai config")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
