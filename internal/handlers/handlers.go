package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/mammo-check/internal/auth"
	"github.com/example/mammo-check/internal/predictclient"
	"github.com/example/mammo-check/internal/prediction"
	"github.com/example/mammo-check/internal/present"
	"github.com/example/mammo-check/internal/preview"
	"github.com/example/mammo-check/internal/repository"
	"github.com/example/mammo-check/internal/session"
	"github.com/example/mammo-check/internal/upload"
	"github.com/example/mammo-check/internal/usecase"
)

// MaxUploadSize is the largest accepted image.
const MaxUploadSize = upload.MaxFileSize

// MaxBatchFiles bounds a batch request.
const MaxBatchFiles = 10

// Room for multipart boundaries and headers on top of the file itself.
const multipartOverhead = 1 << 20

const healthTimeout = 5 * time.Second

// RequestIDHeader carries the id an API prediction is audited under.
const RequestIDHeader = "X-Request-ID"

// Analyzer is the audited prediction entry point.
type Analyzer interface {
	predictclient.Predictor
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
	GetAnalysis(ctx context.Context, requestID string) (*repository.AnalysisLog, error)
}

// Handler serves the browser-facing API.
type Handler struct {
	sessions *session.Manager
	analyzer Analyzer
	backend  predictclient.Backend
	previews preview.Store
	strategy predictclient.Strategy
	logger   *zap.Logger
}

// Deps groups the collaborators of Handler.
type Deps struct {
	Sessions *session.Manager
	Analyzer Analyzer
	Backend  predictclient.Backend
	Previews preview.Store
	Strategy predictclient.Strategy
	Logger   *zap.Logger
}

// New creates a Handler.
func New(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions: deps.Sessions,
		analyzer: deps.Analyzer,
		backend:  deps.Backend,
		previews: deps.Previews,
		strategy: deps.Strategy,
		logger:   logger.Named("handlers"),
	}
}

// RegisterRoutes wires the HTTP handlers to the Gin router. authMiddleware guards
// the operator endpoints.
func RegisterRoutes(router *gin.Engine, h *Handler, authMiddleware gin.HandlerFunc) {
	singleUpload := limitBody(MaxUploadSize + multipartOverhead)

	router.GET("/health", h.health)

	api := router.Group("/api")
	api.POST("/predict", singleUpload, h.predict)
	api.POST("/batch-predict", limitBody(MaxBatchFiles*MaxUploadSize+multipartOverhead), h.batchPredict)
	api.GET("/model-info", h.modelInfo)
	api.GET("/metrics", authMiddleware, h.metrics)
	api.GET("/analyses/:request_id", authMiddleware, h.analysis)

	sessions := api.Group("/sessions")
	sessions.POST("", h.createSession)
	sessions.GET("/:id", h.getSession)
	sessions.DELETE("/:id", h.deleteSession)
	sessions.POST("/:id/submit", singleUpload, h.submit)
	sessions.POST("/:id/reset", h.reset)
	sessions.GET("/:id/preview", h.preview)
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	resp := gin.H{
		"status":        "ok",
		"models_loaded": false,
		"strategy":      h.strategy,
		"timestamp":     time.Now().UTC(),
	}
	backendHealth, err := h.backend.Health(ctx)
	switch {
	case err != nil:
		resp["status"] = "degraded"
		resp["detail"] = err.Error()
	case !backendHealth.Healthy():
		resp["status"] = "degraded"
		resp["models_loaded"] = backendHealth.ModelsLoaded
	default:
		resp["models_loaded"] = true
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) predict(c *gin.Context) {
	file, ok := h.readUpload(c, "file")
	if !ok {
		return
	}
	if err := upload.Validate(file); err != nil {
		h.writeError(c, err)
		return
	}

	requestID := uuid.NewString()
	c.Header(RequestIDHeader, requestID)

	ctx := usecase.WithRequestID(usecase.WithSource(c.Request.Context(), usecase.SourceAPI), requestID)
	result, err := h.analyzer.Predict(ctx, file)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) batchPredict(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		h.writeUploadError(c, err)
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		writeDetail(c, http.StatusBadRequest, "files field is required")
		return
	}
	if len(headers) > MaxBatchFiles {
		writeDetail(c, http.StatusBadRequest, "too many files")
		return
	}

	files := make([]*upload.File, 0, len(headers))
	for _, fh := range headers {
		file, err := upload.FromFileHeader(fh)
		if err != nil {
			writeDetail(c, http.StatusBadRequest, "unable to read upload")
			return
		}
		if err := upload.Validate(file); err != nil {
			h.writeError(c, err)
			return
		}
		files = append(files, file)
	}

	raw, err := h.backend.BatchPredict(c.Request.Context(), files)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

func (h *Handler) modelInfo(c *gin.Context) {
	info, err := h.backend.ModelInfo(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) metrics(c *gin.Context) {
	operator, _ := auth.GetOperator(c.Request.Context())
	summary, err := h.analyzer.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.logger.Info("metrics summary served", zap.String("operator", operator), zap.Int64("total_requests", summary.TotalRequests))
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) analysis(c *gin.Context) {
	operator, _ := auth.GetOperator(c.Request.Context())
	requestID := c.Param("request_id")
	log, err := h.analyzer.GetAnalysis(c.Request.Context(), requestID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.logger.Info("analysis served", zap.String("operator", operator), zap.String("request_id", requestID))
	c.JSON(http.StatusOK, log)
}

type sessionResponse struct {
	SessionID  string             `json:"session_id"`
	State      session.State      `json:"state"`
	FileName   string             `json:"file_name,omitempty"`
	PreviewURL string             `json:"preview_url,omitempty"`
	Result     *prediction.Result `json:"result,omitempty"`
	View       *present.View      `json:"view,omitempty"`
	Error      string             `json:"error,omitempty"`
	ErrorKind  string             `json:"error_kind,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

func newSessionResponse(snap session.Snapshot) sessionResponse {
	resp := sessionResponse{
		SessionID: snap.SessionID,
		State:     snap.State,
		FileName:  snap.FileName,
		Result:    snap.Result,
		UpdatedAt: snap.UpdatedAt,
	}
	if snap.Preview != nil {
		resp.PreviewURL = "/api/sessions/" + snap.SessionID + "/preview"
	}
	if snap.Result != nil {
		view := present.Build(snap.Result)
		resp.View = &view
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
		if kind, ok := predictclient.KindOf(snap.Err); ok {
			resp.ErrorKind = string(kind)
		}
	}
	return resp
}

func (h *Handler) createSession(c *gin.Context) {
	machine := h.sessions.Create()
	c.JSON(http.StatusCreated, newSessionResponse(machine.Snapshot()))
}

func (h *Handler) lookup(c *gin.Context) (*session.Machine, bool) {
	machine, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return machine, true
}

func (h *Handler) getSession(c *gin.Context) {
	machine, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(machine.Snapshot()))
}

func (h *Handler) deleteSession(c *gin.Context) {
	if err := h.sessions.Close(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// submit starts an analysis and answers 202 at once. With ?wait=true it answers
// 200 after the analysis finished.
func (h *Handler) submit(c *gin.Context) {
	machine, ok := h.lookup(c)
	if !ok {
		return
	}
	file, ok := h.readUpload(c, "file")
	if !ok {
		return
	}

	ctx := usecase.WithSource(usecase.WithSessionID(c.Request.Context(), machine.ID()), usecase.SourceSession)
	if err := machine.Submit(ctx, file); err != nil {
		h.writeError(c, err)
		return
	}

	if c.Query("wait") != "true" {
		c.JSON(http.StatusAccepted, newSessionResponse(machine.Snapshot()))
		return
	}
	snap, err := machine.Await(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusAccepted, newSessionResponse(snap))
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(snap))
}

func (h *Handler) reset(c *gin.Context) {
	machine, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := machine.Reset(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(machine.Snapshot()))
}

func (h *Handler) preview(c *gin.Context) {
	machine, ok := h.lookup(c)
	if !ok {
		return
	}
	snap := machine.Snapshot()
	if snap.Preview == nil {
		writeDetail(c, http.StatusNotFound, "no preview")
		return
	}
	p, err := h.previews.Get(c.Request.Context(), snap.Preview.ID)
	if err != nil {
		if errors.Is(err, preview.ErrNotFound) {
			writeDetail(c, http.StatusNotFound, "no preview")
			return
		}
		h.writeError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, p.ContentType, p.Data)
}

// readUpload extracts one file part. It writes the error response itself and
// reports false when the request cannot be used.
func (h *Handler) readUpload(c *gin.Context, field string) (*upload.File, bool) {
	fh, err := c.FormFile(field)
	if err != nil {
		h.writeUploadError(c, err)
		return nil, false
	}
	file, err := upload.FromFileHeader(fh)
	if err != nil {
		h.logger.Warn("failed to read upload", zap.Error(err))
		writeDetail(c, http.StatusBadRequest, "unable to read upload")
		return nil, false
	}
	return file, true
}
