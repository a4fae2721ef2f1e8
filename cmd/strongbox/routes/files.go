package routes

import (
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/strongbox/cmd/strongbox/types"
	"github.com/lgulliver/strongbox/internal/apperr"
	"github.com/lgulliver/strongbox/internal/storage"
)

// MakeDirRequest creates a directory
type MakeDirRequest struct {
	Path string `json:"path"`
}

// RenameRequest renames a file or directory
type RenameRequest struct {
	PathWithOldName string `json:"pathWithOldName"`
	PathWithNewName string `json:"pathWithNewName"`
}

// MoveRequest moves a file or directory
type MoveRequest struct {
	SourcePath      string `json:"sourcePath"`
	DestinationPath string `json:"destinationPath"`
}

// FileRoutes sets up browsing, transfer and housekeeping routes
func FileRoutes(api *gin.RouterGroup, files FileServiceInterface) {
	group := api.Group("/files")
	group.POST("/upload", handleSmallUpload(files))
	group.GET("/download/*path", handleDownload(files))
	group.GET("/list", handleList(files))
	group.GET("/recent", handleRecent(files))
	group.POST("/directory", handleMakeDir(files))
	group.DELETE("/directory/*path", handleDeleteDir(files))
	group.DELETE("/file/*path", handleDeleteFile(files))
	group.PUT("/rename", handleRename(files))
	group.POST("/move", handleMove(files))
}

// wildcardPath strips the leading slash gin leaves on catch-all parameters
func wildcardPath(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("path"), "/")
}

func handleSmallUpload(files FileServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			types.WriteError(c, apperr.Validation("no file uploaded"))
			return
		}
		defer file.Close()

		stored, err := files.Upload(c.Request.Context(), c.Query("path"), header.Filename, header.Size, file)
		if err != nil {
			types.WriteError(c, err)
			return
		}

		c.JSON(http.StatusOK, stored)
	}
}

func handleDownload(files FileServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		download, err := files.Open(c.Request.Context(), wildcardPath(c))
		if err != nil {
			types.WriteError(c, err)
			return
		}
		defer download.File.Close()

		disposition := mime.FormatMediaType("attachment", map[string]string{"filename": download.Name})
		c.DataFromReader(http.StatusOK, download.Size, download.ContentType, download.File, map[string]string{
			"Content-Disposition": disposition,
			"Last-Modified":       download.ModTime.UTC().Format(http.TimeFormat),
		})
	}
}

func handleList(files FileServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := files.List(c.Request.Context(), c.Query("path"), c.Query("searchQuery"))
		if err != nil {
			types.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, nonNilEntries(entries))
	}
}

func handleRecent(files FileServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := files.Recent(c.Request.Context())
		if err != nil {
			types.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, nonNilEntries(entries))
	}
}

func handleMakeDir(files FileServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req MakeDirRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			types.BadRequest(c, err)
			return
		}

		if err := files.MakeDir(c.Request.Context(), req.Path); err != nil {
			types.WriteError(c, err)
			return
		}
		c.JSON(http.StatusCreated, types.SuccessResponse{Message: "directory created"})
	}
}

func handleDeleteDir(files FileServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := files.DeleteDir(c.Request.Context(), wildcardPath(c)); err != nil {
			types.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, types.SuccessResponse{Message: "directory deleted"})
	}
}

func handleDeleteFile(files FileServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := files.DeleteFile(c.Request.Context(), wildcardPath(c)); err != nil {
			types.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, types.SuccessResponse{Message: "file deleted"})
	}
}

func handleRename(files FileServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RenameRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			types.BadRequest(c, err)
			return
		}

		if err := files.Rename(c.Request.Context(), req.PathWithOldName, req.PathWithNewName); err != nil {
			types.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, types.SuccessResponse{Message: "renamed"})
	}
}

func handleMove(files FileServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req MoveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			types.BadRequest(c, err)
			return
		}

		if err := files.Move(c.Request.Context(), req.SourcePath, req.DestinationPath); err != nil {
			types.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, types.SuccessResponse{Message: "moved"})
	}
}

func nonNilEntries(entries []storage.Entry) []storage.Entry {
	if entries == nil {
		return []storage.Entry{}
	}
	return entries
}
