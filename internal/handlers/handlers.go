package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/face-match/internal/auth"
	"github.com/example/face-match/internal/session"
	"github.com/example/face-match/internal/upload"
)

// MaxUploadSize is the largest accepted image in bytes.
const MaxUploadSize = upload.MaxFileSize

// maxRequestSize leaves room for the multipart envelope around the image.
const maxRequestSize = MaxUploadSize + 1<<20

// RegisterRoutes wires the session API to the Gin router.
func RegisterRoutes(router *gin.Engine, registry *session.Registry, sessionMiddleware gin.HandlerFunc) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/session", sessionMiddleware)

	api.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, controllerFor(c, registry).View())
	})

	api.POST("/slots/:slot", func(c *gin.Context) {
		slot, err := session.ParseSlot(c.Param("slot"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctrl := controllerFor(c, registry)

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestSize)
		header, err := c.FormFile("image")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				ctrl.ShowError(upload.ErrFileTooLarge.Error())
				c.JSON(http.StatusRequestEntityTooLarge, ctrl.View())
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}

		src, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		err = ctrl.Upload(c.Request.Context(), slot, upload.File{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Source:      parseSource(c.Query("source")),
			Body:        src,
		})
		c.JSON(uploadStatus(err), ctrl.View())
	})

	api.DELETE("/slots/:slot", func(c *gin.Context) {
		slot, err := session.ParseSlot(c.Param("slot"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctrl := controllerFor(c, registry)
		if err := ctrl.Remove(c.Request.Context(), slot); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, ctrl.View())
	})

	api.POST("/compare", func(c *gin.Context) {
		ctrl := controllerFor(c, registry)
		// The comparison settles even if the page drops this request.
		err := ctrl.Compare(context.WithoutCancel(c.Request.Context()))
		c.JSON(compareStatus(err), ctrl.View())
	})
}

func controllerFor(c *gin.Context, registry *session.Registry) *session.Controller {
	sessionID, _ := auth.GetSessionID(c.Request.Context())
	return registry.Get(c.Request.Context(), sessionID, c.Request.Host)
}

func parseSource(value string) upload.Source {
	if value == string(upload.SourceDrop) {
		return upload.SourceDrop
	}
	return upload.SourceBrowse
}

func uploadStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, upload.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, upload.ErrNotImage):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadRequest
	}
}

func compareStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, session.ErrImagesMissing):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrComparisonPending):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
