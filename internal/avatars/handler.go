package avatars

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"filevault/internal/identity"
	"filevault/internal/shared/server/middleware"
	"filevault/internal/shared/server/respond"
)

// multipart framing on top of the image itself
const formOverhead = 1 << 20

// UserViewer renders an identity for clients.
type UserViewer interface {
	View(ctx context.Context, id identity.Identity) identity.UserView
}

type Handler struct {
	Svc   *Service
	Users UserViewer
}

func NewHandler(svc *Service, users UserViewer) *Handler {
	return &Handler{Svc: svc, Users: users}
}

// RegisterRoutes mounts the avatar upload route on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/profile/avatar", h.upload)
}

func (h *Handler) upload(c *gin.Context) {
	ownerID := middleware.UserIDFromContext(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxSize+formOverhead)

	fileHeader, err := c.FormFile("avatar")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respond.FromError(c, ErrTooLarge)
			return
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", "No file uploaded", nil)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	defer file.Close()

	res, err := h.Svc.Update(c.Request.Context(), ownerID, UploadInput{
		FileName:    fileHeader.Filename,
		ContentType: strings.TrimSpace(fileHeader.Header.Get("Content-Type")),
		Size:        fileHeader.Size,
		Body:        file,
		RequestID:   middleware.RequestIDFromContext(c),
	})
	if err != nil {
		respond.FromError(c, err)
		return
	}

	user := h.Users.View(c.Request.Context(), res.Identity)
	user.Avatar = &res.URL
	respond.OK(c, gin.H{
		"message": "Avatar uploaded successfully",
		"avatar":  res.URL,
		"user":    user,
	})
}
