package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"quickcap-api/pkg/chunkstore"
	"quickcap-api/pkg/rabbitmq"
	"quickcap-api/service"
)

// RequestLogger attaches the process logger to every request context,
// so zerolog.Ctx keeps working downstream of gin.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Next()
	}
}

type VideoHandler struct {
	Uploads      service.UploadCoordinator
	MaxChunkSize int64
}

func NewVideoHandler(uploads service.UploadCoordinator, maxChunkSize int64) *VideoHandler {
	return &VideoHandler{Uploads: uploads, MaxChunkSize: maxChunkSize}
}

func (h *VideoHandler) Register(r *gin.Engine) {
	video := r.Group("/video")
	video.POST("/chunks", h.UploadChunk)
	video.GET("/chunks/status", h.ChunkStatus)
	video.GET("/latest", h.LatestResult)
}

// UploadChunk accepts one chunk of a chunked upload. The final chunk of
// a complete set triggers combine and the processing pipeline, so its
// response can take far longer than the others.
func (h *VideoHandler) UploadChunk(c *gin.Context) {
	userId := c.GetHeader("X-User-Id")
	orgId := c.GetHeader("X-Org-Id")
	if userId == "" || orgId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-User-Id and X-Org-Id headers required"})
		return
	}

	fileId := c.Query("fileId")
	originalFilename := c.Query("originalFilename")
	if fileId == "" || originalFilename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fileId and originalFilename required"})
		return
	}

	chunkIndex, err := strconv.Atoi(c.Query("chunkIndex"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chunkIndex must be an integer"})
		return
	}
	totalChunks, err := strconv.Atoi(c.Query("totalChunks"))
	if err != nil || totalChunks < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "totalChunks must be a positive integer"})
		return
	}

	file, err := c.FormFile("chunk")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chunk file required"})
		return
	}
	if file.Size > h.MaxChunkSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "chunk exceeds size limit"})
		return
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	st, err := h.Uploads.OnChunkReceived(c.Request.Context(), userId, orgId, fileId, originalFilename, chunkIndex, totalChunks, data)
	if err != nil {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).
			Str("file_id", fileId).
			Int("chunk_index", chunkIndex).
			Msg("chunk upload failed")
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, st)
}

func (h *VideoHandler) ChunkStatus(c *gin.Context) {
	fileId := c.Query("fileId")
	if fileId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fileId required"})
		return
	}
	totalChunks, err := strconv.Atoi(c.Query("totalChunks"))
	if err != nil || totalChunks < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "totalChunks must be a positive integer"})
		return
	}

	st, err := h.Uploads.Status(c.Request.Context(), fileId, totalChunks)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *VideoHandler) LatestResult(c *gin.Context) {
	fileId := c.Query("fileId")
	if fileId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fileId required"})
		return
	}

	video, err := h.Uploads.LatestResultFor(fileId)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, video)
}

// statusForError maps pipeline failures to distinct response codes so
// clients can tell a retryable staging problem from a terminal one.
func statusForError(err error) int {
	var missing *chunkstore.MissingChunkError
	var noHandler *rabbitmq.NoHandlerOrConnectivityError
	switch {
	case errors.Is(err, chunkstore.ErrBadFileId):
		return http.StatusBadRequest
	case errors.As(err, &missing):
		return http.StatusConflict
	case errors.Is(err, service.ErrResultNotFound):
		return http.StatusNotFound
	case errors.Is(err, rabbitmq.ErrBrokerUnavailable), errors.As(err, &noHandler):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrProcessingFailed):
		return http.StatusBadGateway
	case errors.Is(err, chunkstore.ErrChunkIO):
		// The chunk can be retried as-is; the rest of the session is
		// untouched.
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
