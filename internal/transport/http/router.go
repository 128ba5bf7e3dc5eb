// Package http exposes the REST surface: token issuing, image uploads,
// media serving and health, plus the websocket upgrade route.
package http

import (
	"io"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"room-chat/internal/media"
	"room-chat/internal/token"
)

// maxUploadSize bounds image uploads.
const maxUploadSize = 8 << 20

// RouterConfig wires the handlers' dependencies.
type RouterConfig struct {
	Issuer *token.Issuer
	Blobs  media.Store
	// Health reports backing-store health; nil means always healthy.
	Health func() error
	// Socket handles GET /ws; nil disables the route.
	Socket gin.HandlerFunc
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	h := &handlers{cfg: cfg}

	api := router.Group("/api")
	{
		api.POST("/token", h.issueToken)
		api.POST("/images", h.uploadImage)
	}
	router.GET("/media/:name", h.serveMedia)
	router.GET("/healthz", h.health)
	if cfg.Socket != nil {
		router.GET("/ws", cfg.Socket)
	}

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

type handlers struct {
	cfg RouterConfig
}

type tokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// issueToken mints a short-lived calling-service credential for a
// participant id. The body must be JSON; anything else is a 400.
func (h *handlers) issueToken(c *gin.Context) {
	if c.ContentType() != "application/json" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected application/json"})
		return
	}

	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	signed, err := h.cfg.Issuer.Issue(req.UserID)
	if err != nil {
		log.Error().Err(err).Msg("token signing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": signed})
}

// uploadImage stores an uploaded image and returns the URL a client puts
// into a message body.
func (h *handlers) uploadImage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
		return
	}

	url, err := h.cfg.Blobs.Put(filepath.Base(file.Filename), data)
	if err != nil {
		log.Error().Err(err).Msg("failed to store upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store image"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *handlers) serveMedia(c *gin.Context) {
	path, err := h.cfg.Blobs.Path(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.File(path)
}

func (h *handlers) health(c *gin.Context) {
	if h.cfg.Health != nil {
		if err := h.cfg.Health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
