package handlers

import (
	"context"
	"errors"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/example/authdoc/internal/auth"
	"github.com/example/authdoc/internal/engine"
	"github.com/example/authdoc/internal/repository"
	"github.com/example/authdoc/internal/usecase"
	"github.com/example/authdoc/internal/verification"
)

// MaxUploadSize is the default per-image upload limit in bytes.
const MaxUploadSize = 10 << 20

const multipartOverhead = 1 << 20

var supportedImageTypes = []string{"image/jpeg", "image/png", "image/bmp", "image/tiff", "image/webp"}

// Service is the use case surface exposed over HTTP.
type Service interface {
	VerifyDocument(ctx context.Context, input usecase.VerifyInput) (*repository.VerificationRecord, engine.Verdict, error)
	GetResult(ctx context.Context, userID, requestID string) (*repository.VerificationRecord, error)
	GetDuplicateReport(ctx context.Context, userID, requestID string) (*usecase.DuplicateReport, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

var errUploadTooLarge = errors.New("file too large")

// RegisterRoutes wires the HTTP handlers to the Gin router. A non-positive maxUpload
// falls back to MaxUploadSize.
func RegisterRoutes(router *gin.Engine, svc Service, authMiddleware gin.HandlerFunc, maxUpload int64) {
	if maxUpload <= 0 {
		maxUpload = MaxUploadSize
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authorized := router.Group("/", authMiddleware)

	authorized.POST("/verify", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		// Document and template plus form fields.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*maxUpload+multipartOverhead)
		if err := c.Request.ParseMultipartForm(maxUpload); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": errUploadTooLarge.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
			return
		}

		identity := strings.TrimSpace(c.PostForm("identity"))
		if identity == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "identity is required"})
			return
		}

		document, err := c.FormFile("document")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "document file is required"})
			return
		}
		docData, docMIME, status, err := readImage(document, maxUpload)
		if err != nil {
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		input := usecase.VerifyInput{
			UserID:       userID,
			Identity:     identity,
			Document:     docData,
			DocumentMIME: docMIME,
		}
		if template, err := c.FormFile("template"); err == nil {
			input.Template, input.TemplateMIME, status, err = readImage(template, maxUpload)
			if err != nil {
				c.JSON(status, gin.H{"error": err.Error()})
				return
			}
		}

		record, _, err := svc.VerifyDocument(c.Request.Context(), input)
		if err != nil {
			c.JSON(verifyErrorStatus(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, recordResponse(record))
	})

	authorized.GET("/result/:id", func(c *gin.Context) {
		userID, requestID, ok := lookupParams(c)
		if !ok {
			return
		}

		record, err := svc.GetResult(c.Request.Context(), userID, requestID)
		if err != nil {
			c.JSON(lookupErrorStatus(err), gin.H{"error": lookupErrorMessage(err)})
			return
		}

		c.JSON(http.StatusOK, recordResponse(record))
	})

	authorized.GET("/result/:id/duplicates", func(c *gin.Context) {
		userID, requestID, ok := lookupParams(c)
		if !ok {
			return
		}

		report, err := svc.GetDuplicateReport(c.Request.Context(), userID, requestID)
		if err != nil {
			c.JSON(lookupErrorStatus(err), gin.H{"error": lookupErrorMessage(err)})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request":    recordResponse(report.Request),
			"duplicates": lo.Map(report.Duplicates, func(r *repository.VerificationRecord, _ int) gin.H { return recordResponse(r) }),
		})
	})

	authorized.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func lookupParams(c *gin.Context) (string, string, bool) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", "", false
	}
	requestID := c.Param("id")
	if requestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return "", "", false
	}
	return userID, requestID, true
}

func readImage(file *multipart.FileHeader, limit int64) ([]byte, string, int, error) {
	if file.Size > limit {
		return nil, "", http.StatusRequestEntityTooLarge, errUploadTooLarge
	}
	src, err := file.Open()
	if err != nil {
		return nil, "", http.StatusBadRequest, errors.New("unable to open upload")
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, "", http.StatusInternalServerError, errors.New("failed to read upload")
	}

	detected := mimetype.Detect(data)
	if !lo.ContainsBy(supportedImageTypes, func(m string) bool { return detected.Is(m) }) {
		return nil, "", http.StatusUnsupportedMediaType, errors.New("unsupported media type: " + detected.String())
	}
	return data, detected.String(), http.StatusOK, nil
}

func verifyErrorStatus(err error) int {
	switch {
	case errors.Is(err, verification.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, verification.ErrUndecodableImage):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func lookupErrorStatus(err error) int {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func lookupErrorMessage(err error) string {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "result not found"
	}
	return "failed to load result"
}

func recordResponse(record *repository.VerificationRecord) gin.H {
	scores := make(map[verification.Metric]float64)
	for metric, value := range record.Scores() {
		scores[metric] = percent(value)
	}

	resp := gin.H{
		"request_id":     record.RequestID,
		"status":         record.Status,
		"identity":       record.IdentityMasked,
		"sha1_hash":      record.SHA1Hash,
		"scores":         scores,
		"classification": record.Classification,
		"policy":         record.Policy,
		"latency_ms":     record.LatencyMs,
		"created_at":     record.CreatedAt,
	}
	if record.FinalScore != nil {
		resp["final_score"] = percent(*record.FinalScore)
	}
	if record.FailedMetrics != "" {
		resp["failed_metrics"] = strings.Split(record.FailedMetrics, ",")
	}
	if record.ErrorMessage != "" {
		resp["error"] = record.ErrorMessage
	}
	if record.CompletedAt != nil {
		resp["completed_at"] = record.CompletedAt
	}
	return resp
}

// percent converts a [0,1] score to the 0-100 scale shown to clients.
func percent(v float64) float64 {
	return math.Round(v*1000) / 10
}
