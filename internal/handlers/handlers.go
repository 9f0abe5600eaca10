package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/dresscheck/internal/auth"
	"github.com/example/dresscheck/internal/classifier"
	"github.com/example/dresscheck/internal/dresscode"
	"github.com/example/dresscheck/internal/imageprocessor"
	"github.com/example/dresscheck/internal/repository"
	"github.com/example/dresscheck/internal/runqueue"
	"github.com/example/dresscheck/internal/usecase"
)

// MaxUploadSize bounds an uploaded photograph.
const MaxUploadSize = 8 << 20

// multipartOverhead leaves room for the form framing around the photograph.
const multipartOverhead = 1 << 20

// CheckService is the use case surface served over HTTP.
type CheckService interface {
	RunCheck(ctx context.Context, inspectorID string, imageBytes []byte) (*usecase.CheckResult, error)
	GetCheck(ctx context.Context, inspectorID, runID string) (*usecase.CheckResult, error)
	SaveFailure(ctx context.Context, inspectorID, runID, studentID, imageURL string) (*repository.CheckRecord, error)
	UploadImage(ctx context.Context, inspectorID string, imageBytes []byte) (string, error)
	ParseDay(day string) (time.Time, error)
	History(ctx context.Context, inspectorID string, day time.Time) ([]*repository.CheckRecord, error)
	GetDailySummary(ctx context.Context, inspectorID string, day time.Time) (*usecase.DailySummary, error)
}

type checkResponse struct {
	dresscode.Outcome
	Failures []string `json:"failures,omitempty"`
}

type saveFailureRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	ImageURL  string `json:"image_url"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc CheckService, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/", authMiddleware)

	protected.POST("/checks", func(c *gin.Context) {
		inspectorID, ok := inspector(c)
		if !ok {
			return
		}
		data, ok := readImage(c)
		if !ok {
			return
		}

		result, err := svc.RunCheck(c.Request.Context(), inspectorID, data)
		if err != nil {
			c.JSON(statusFor(err), checkResponse{Outcome: dresscode.NewOutcome("", nil, err)})
			return
		}
		c.JSON(http.StatusOK, checkResponse{
			Outcome:  dresscode.NewOutcome(result.RunID, result.Verdict, nil),
			Failures: result.Failures,
		})
	})

	protected.GET("/checks/:run_id", func(c *gin.Context) {
		inspectorID, ok := inspector(c)
		if !ok {
			return
		}
		result, err := svc.GetCheck(c.Request.Context(), inspectorID, c.Param("run_id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	protected.POST("/checks/:run_id/failures", func(c *gin.Context) {
		inspectorID, ok := inspector(c)
		if !ok {
			return
		}
		var req saveFailureRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "student_id is required"})
			return
		}

		record, err := svc.SaveFailure(c.Request.Context(), inspectorID, c.Param("run_id"), req.StudentID, req.ImageURL)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, record)
	})

	protected.POST("/images", func(c *gin.Context) {
		inspectorID, ok := inspector(c)
		if !ok {
			return
		}
		data, ok := readImage(c)
		if !ok {
			return
		}

		url, err := svc.UploadImage(c.Request.Context(), inspectorID, data)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"url": url})
	})

	protected.GET("/history", func(c *gin.Context) {
		inspectorID, ok := inspector(c)
		if !ok {
			return
		}
		day, err := svc.ParseDay(c.Query("date"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be formatted as " + usecase.DayLayout})
			return
		}

		records, err := svc.History(c.Request.Context(), inspectorID, day)
		if err != nil {
			writeError(c, err)
			return
		}
		if records == nil {
			records = []*repository.CheckRecord{}
		}
		c.JSON(http.StatusOK, gin.H{"date": day.Format(usecase.DayLayout), "records": records})
	})

	protected.GET("/history/summary", func(c *gin.Context) {
		inspectorID, ok := inspector(c)
		if !ok {
			return
		}
		day, err := svc.ParseDay(c.Query("date"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be formatted as " + usecase.DayLayout})
			return
		}

		summary, err := svc.GetDailySummary(c.Request.Context(), inspectorID, day)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// RegisterMetrics exposes the gatherer in the Prometheus text format.
func RegisterMetrics(router *gin.Engine, gatherer prometheus.Gatherer) {
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

func inspector(c *gin.Context) (string, bool) {
	inspectorID, ok := auth.InspectorID(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing inspector identity"})
		return "", false
	}
	return inspectorID, true
}

// readImage reads the "image" form file, writing the error response itself
// when the upload is missing, too large or not an image.
func readImage(c *gin.Context) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return nil, false
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return nil, false
	}
	if declared := file.Header.Get("Content-Type"); declared != "" && !imageprocessor.Supported(declared) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported content type " + declared})
		return nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return nil, false
	}
	if sniffed := imageprocessor.DetectContentType(data); !imageprocessor.Supported(sniffed) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported content type " + sniffed})
		return nil, false
	}
	return data, true
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, imageprocessor.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, dresscode.ErrMalformedInput), errors.Is(err, usecase.ErrNothingToSave), errors.Is(err, usecase.ErrRunFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, usecase.ErrStudentIDRequired):
		return http.StatusBadRequest
	case errors.Is(err, classifier.ErrModelUnavailable), errors.Is(err, classifier.ErrInferenceFailure):
		return http.StatusBadGateway
	case errors.Is(err, runqueue.ErrSuperseded), errors.Is(err, usecase.ErrRunInProgress), errors.Is(err, usecase.ErrAlreadySaved):
		return http.StatusConflict
	case errors.Is(err, usecase.ErrRunNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, usecase.ErrUploadsDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
