package routes

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/strongbox/cmd/strongbox/types"
	"github.com/lgulliver/strongbox/internal/apperr"
	pkgtypes "github.com/lgulliver/strongbox/pkg/types"
)

// UploadRoutes sets up the chunked upload protocol
func UploadRoutes(api *gin.RouterGroup, uploads UploadServiceInterface, history HistoryServiceInterface) {
	group := api.Group("/upload")
	group.POST("/init", handleInitUpload(uploads))
	group.POST("/chunk/:id", handleUploadChunk(uploads))
	group.POST("/pause/:id", handlePauseUpload(uploads))
	group.POST("/stop/:id", handleStopUpload(uploads))
	group.GET("/status/:id", handleUploadStatus(uploads))
	group.POST("/complete/:id", handleCompleteUpload(uploads))
	if history != nil {
		group.GET("/history", handleUploadHistory(history))
	}
}

func handleInitUpload(uploads UploadServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pkgtypes.InitUploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			types.BadRequest(c, err)
			return
		}

		d, err := uploads.Init(c.Request.Context(), req.Directory, req.FileName, req.TotalSize, req.ChunkSize)
		if err != nil {
			types.WriteError(c, err)
			return
		}

		c.JSON(http.StatusOK, pkgtypes.InitUploadResponse{UploadID: d.ID})
	}
}

func handleUploadChunk(uploads UploadServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		index, err := strconv.Atoi(c.PostForm("chunkNumber"))
		if err != nil {
			types.WriteError(c, apperr.Validation("chunkNumber must be an integer"))
			return
		}

		file, _, err := c.Request.FormFile("chunk")
		if err != nil {
			types.WriteError(c, apperr.Validation("chunk payload is required"))
			return
		}
		defer file.Close()

		result, err := uploads.SubmitChunk(c.Request.Context(), id, index, file)
		if err != nil {
			types.WriteError(c, err)
			return
		}

		c.JSON(http.StatusOK, chunkResponse(result.Status, result.UploadedChunks, result.FileName))
	}
}

func handlePauseUpload(uploads UploadServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		var paused bool
		if err := c.ShouldBindJSON(&paused); err != nil {
			types.BadRequest(c, fmt.Errorf("body must be a JSON boolean: %w", err))
			return
		}

		if err := uploads.SetPause(c.Request.Context(), c.Param("id"), paused); err != nil {
			types.WriteError(c, err)
			return
		}

		status := pkgtypes.StatusResumed
		if paused {
			status = pkgtypes.StatusPaused
		}
		c.JSON(http.StatusOK, pkgtypes.StatusOnlyResponse{Status: status})
	}
}

func handleStopUpload(uploads UploadServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := uploads.Stop(c.Request.Context(), c.Param("id")); err != nil {
			types.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, pkgtypes.StatusOnlyResponse{Status: pkgtypes.StatusStopped})
	}
}

func handleUploadStatus(uploads UploadServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := uploads.Status(c.Request.Context(), c.Param("id"))
		if err != nil {
			types.WriteError(c, err)
			return
		}

		chunks := status.UploadedChunks
		if chunks == nil {
			chunks = []int{}
		}
		c.JSON(http.StatusOK, pkgtypes.StatusResponse{
			FileName:       status.FileName,
			TotalSize:      status.TotalSize,
			ChunkSize:      status.ChunkSize,
			TotalChunks:    status.TotalChunks,
			UploadedChunks: chunks,
			Paused:         status.Paused,
			Status:         status.Status,
		})
	}
}

func handleCompleteUpload(uploads UploadServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := uploads.Complete(c.Request.Context(), c.Param("id"))
		if err != nil {
			types.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, chunkResponse(result.Status, result.UploadedChunks, result.FileName))
	}
}

func handleUploadHistory(history HistoryServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				types.WriteError(c, apperr.Validation("limit must be a non-negative integer"))
				return
			}
			limit = parsed
		}

		records, err := history.Recent(c.Request.Context(), limit)
		if err != nil {
			types.WriteError(c, apperr.IO("list history", err))
			return
		}
		if records == nil {
			records = []pkgtypes.TransferRecord{}
		}
		c.JSON(http.StatusOK, records)
	}
}

func chunkResponse(status string, chunks []int, fileName string) pkgtypes.ChunkResponse {
	resp := pkgtypes.ChunkResponse{Status: status}
	if status == pkgtypes.StatusCompleted {
		resp.FileName = fileName
		return resp
	}
	resp.UploadedChunks = chunks
	return resp
}
