package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Nubiru/bhaskara-sub000/internal/downloader"
	"github.com/Nubiru/bhaskara-sub000/internal/model"
	"github.com/Nubiru/bhaskara-sub000/internal/orchestrator"
	"github.com/Nubiru/bhaskara-sub000/pkg/artifact"
)

// Handler serves the export API.
type Handler struct {
	Facade *downloader.Facade
	Store  *artifact.Store
	Log    logrus.FieldLogger
}

// BatchRequest is the body of POST /exports/batch.
type BatchRequest struct {
	Requests []model.Options `json:"requests" binding:"required"`
}

// NewRouter returns a gin engine with the export routes, request logging
// and panic recovery installed.
func NewRouter(h *Handler) *gin.Engine {
	if h.Log == nil {
		h.Log = logrus.StandardLogger()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.Log))
	h.Register(r)
	return r
}

// Register adds the export routes to r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.health)

	g := r.Group("/exports")
	g.POST("", h.start)
	g.POST("/batch", h.startBatch)
	g.GET("", h.snapshot)
	g.DELETE("", h.resetAll)
	g.GET("/:id", h.item)
	g.GET("/:id/artifact", h.artifact)
	g.DELETE("/:id", h.cancel)
	g.POST("/:id/reset", h.reset)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "downloading": h.Facade.IsDownloading()})
}

func (h *Handler) start(c *gin.Context) {
	var opts model.Options
	if err := c.ShouldBindJSON(&opts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	opts.CreatedAt = time.Time{}

	id, err := h.Facade.Go(opts)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Header("Location", "/exports/"+string(id))
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (h *Handler) startBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.Requests) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no requests"})
		return
	}
	for i := range req.Requests {
		req.Requests[i].CreatedAt = time.Time{}
	}

	if err := h.Facade.GoMany(req.Requests, nil); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": len(req.Requests)})
}

func (h *Handler) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.Facade.Snapshot())
}

func (h *Handler) item(c *gin.Context) {
	it, ok := h.Facade.Item(model.ID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "export not found"})
		return
	}
	c.JSON(http.StatusOK, it)
}

func (h *Handler) artifact(c *gin.Context) {
	it, ok := h.Facade.Item(model.ID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "export not found"})
		return
	}
	if it.Status != model.StatusCompleted || it.Result == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "export is " + string(it.Status)})
		return
	}

	r, m, err := h.Store.Open(c.Request.Context(), it.Result.Ref)
	if err != nil {
		if artifact.IsNotExist(err) {
			c.JSON(http.StatusGone, gin.H{"error": "artifact no longer stored"})
			return
		}
		h.Log.WithError(err).WithField("download_id", it.ID).Error("open artifact")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot open artifact"})
		return
	}
	defer r.Close()

	c.DataFromReader(http.StatusOK, m.Size, m.MIMEType, r, map[string]string{
		"Content-Disposition": `attachment; filename="` + it.Result.Filename + `"`,
		"X-Checksum-Sha256":   m.Checksum,
	})
}

func (h *Handler) cancel(c *gin.Context) {
	id := model.ID(c.Param("id"))
	if _, ok := h.Facade.Item(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "export not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": h.Facade.Cancel(id)})
}

func (h *Handler) reset(c *gin.Context) {
	h.Facade.Reset(model.ID(c.Param("id")))
	c.Status(http.StatusNoContent)
}

func (h *Handler) resetAll(c *gin.Context) {
	h.Facade.ResetAll()
	c.Status(http.StatusNoContent)
}

// statusFor maps facade errors to HTTP status codes.
func statusFor(err error) int {
	var (
		valErr *model.ValidationError
		cfgErr *model.ConfigurationError
	)
	switch {
	case errors.As(err, &valErr), errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrAlreadyActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"bytes":    c.Writer.Size(),
		}).Debug("request")
	}
}
