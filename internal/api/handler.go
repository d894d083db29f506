// Package api exposes the evaluation pipeline over HTTP with gin.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"english-eval-go/internal/actionable"
	"english-eval-go/internal/auth"
	"english-eval-go/internal/evalerr"
	"english-eval-go/internal/logger"
	"english-eval-go/internal/pipeline"
	"english-eval-go/internal/store"
	"english-eval-go/internal/types"
)

// multipartOverhead is the allowance for form boundaries and fields on
// top of the file itself.
const multipartOverhead = 1 << 20

// Runner is the pipeline entry point the handler needs.
type Runner interface {
	Run(ctx context.Context, sub types.Submission) (pipeline.Outcome, error)
}

type Handler struct {
	runner   Runner
	store    store.Store
	maxBytes int64
	service  string
	version  string
}

func NewHandler(runner Runner, st store.Store, maxBytes int64, service, version string) *Handler {
	return &Handler{runner: runner, store: st, maxBytes: maxBytes, service: service, version: version}
}

// SetupRoutes registers /health and the authenticated /api/v1 routes.
func SetupRoutes(router *gin.Engine, h *Handler, authn *auth.Authenticator) {
	router.GET("/health", h.HealthCheck)

	v1 := router.Group("/api/v1", auth.Middleware(authn))
	{
		v1.POST("/report", h.CreateReport)
		v1.GET("/evaluations/:id", h.GetEvaluation)
	}
}

// RequestLogger logs one line per request with the request id.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := logger.RequestID(c.Request)
		c.Request.Header.Set("X-Request-ID", id)
		c.Header("X-Request-ID", id)
		c.Next()
		logger.New().WithRequest(c.Request).WithField("status", c.Writer.Status()).
			WithField("duration_ms", time.Since(start).Milliseconds()).Info("request handled")
	}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": h.service, "version": h.version})
}

// reportResponse is the success body of POST /api/v1/report.
type reportResponse struct {
	EvaluationID  uuid.UUID             `json:"evaluation_id"`
	ReportID      uuid.UUID             `json:"report_id"`
	Transcription string                `json:"transcription"`
	Report        types.Report          `json:"report"`
	OverallBand   actionable.Band       `json:"overall_band"`
	Focus         actionable.ActionCard `json:"focus"`
	Segments      []types.Segment       `json:"segments,omitempty"`
	DurationMs    int64                 `json:"duration_ms"`
}

func (h *Handler) CreateReport(c *gin.Context) {
	log := logger.New().WithRequest(c.Request).WithField("handler", "report")
	principal, ok := auth.PrincipalFrom(c)
	if !ok {
		h.writeError(c, evalerr.Auth("authentication required", nil))
		return
	}

	// reject oversized bodies before reading them
	if c.Request.ContentLength > h.maxBytes+multipartOverhead {
		h.writeError(c, evalerr.Validation(evalerr.ConstraintSize,
			"file too large: %d bytes, maximum %d MB", c.Request.ContentLength, h.maxBytes/(1024*1024)))
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartOverhead)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			h.writeError(c, evalerr.Validation(evalerr.ConstraintSize,
				"file too large: maximum %d MB", h.maxBytes/(1024*1024)))
			return
		}
		h.writeError(c, evalerr.Validation(evalerr.ConstraintEmpty, "file is required"))
		return
	}

	opts, err := parseOptions(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	sub := types.Submission{
		Employee:    principal.Employee,
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Options:     opts,
	}
	// Size and type are checked by the pipeline; only read what can pass.
	if fh.Size > 0 && fh.Size <= h.maxBytes {
		f, err := fh.Open()
		if err != nil {
			h.writeError(c, evalerr.Internal(evalerr.StageValidating, "opening upload", err))
			return
		}
		sub.Audio, err = io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			h.writeError(c, evalerr.Internal(evalerr.StageValidating, "reading upload", err))
			return
		}
	}

	log.WithField("filename", fh.Filename).WithField("size_bytes", fh.Size).
		WithField("employee_id", principal.Employee.ID).Info("evaluation requested")

	out, err := h.runner.Run(c.Request.Context(), sub)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reportResponse{
		EvaluationID:  out.EvaluationID,
		ReportID:      out.ReportID,
		Transcription: out.Transcription,
		Report:        out.Report,
		OverallBand:   out.OverallBand,
		Focus:         out.Focus,
		Segments:      out.Segments,
		DurationMs:    out.DurationMs,
	})
}

// GetEvaluation returns an evaluation of the caller and its report if any.
func (h *Handler) GetEvaluation(c *gin.Context) {
	principal, ok := auth.PrincipalFrom(c)
	if !ok {
		h.writeError(c, evalerr.Auth("authentication required", nil))
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid evaluation id"})
		return
	}

	rec, err := h.store.GetEvaluation(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && rec.Evaluation.Employee.ID != principal.Employee.ID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "evaluation not found"})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}

	body := gin.H{"evaluation": rec.Evaluation}
	if rec.Report != nil {
		body["report"] = rec.Report
		body["overall_band"] = actionable.BandFor(rec.Report.OverallScore)
		body["focus"] = actionable.Generate(*rec.Report)
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := evalerr.HTTPStatus(err)
	entry := logger.New().WithRequest(c.Request).WithField("status", status).WithField("error", err.Error())
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Warn("request rejected")
	}

	body := gin.H{
		"error":      evalerr.PublicMessage(err),
		"error_kind": string(evalerr.KindOf(err)),
	}
	if stage := evalerr.StageOf(err); stage != "" {
		body["stage"] = string(stage)
	}
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", "Bearer")
	}
	c.JSON(status, body)
}

// parseOptions reads language_code, diarize and tag_audio_events from the
// form, applying the defaults for anything left out.
func parseOptions(c *gin.Context) (types.Options, error) {
	opts := types.DefaultOptions()
	if v := strings.TrimSpace(c.PostForm("language_code")); v != "" {
		opts.LanguageCode = v
	}
	for _, f := range []struct {
		name string
		dst  *bool
	}{
		{"diarize", &opts.Diarize},
		{"tag_audio_events", &opts.TagAudioEvents},
	} {
		v := strings.TrimSpace(c.PostForm(f.name))
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return types.Options{}, evalerr.Validation(evalerr.ConstraintOptions, "%s must be true or false, got %q", f.name, v)
		}
		*f.dst = b
	}
	return opts, nil
}
