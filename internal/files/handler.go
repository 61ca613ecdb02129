package files

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"filevault/internal/shared/server/middleware"
	"filevault/internal/shared/server/respond"
)

const (
	maxUploadSize = 50 << 20 // 50MB
	// multipart framing and headers on top of the file itself
	uploadOverhead = 1 << 20
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches file routes to an authenticated router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/upload", h.upload)
	rg.GET("/protected", h.list)
	rg.GET("/files/:id", h.get)
	rg.DELETE("/files/:id", h.delete)
}

type downloadResponse struct {
	DownloadURL string `json:"downloadUrl"`
	FileName    string `json:"fileName"`
	FileType    string `json:"fileType"`
	FileSize    int64  `json:"fileSize"`
}

func (h *Handler) upload(c *gin.Context) {
	ownerID := middleware.UserIDFromContext(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize+uploadOverhead)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respond.Error(c, http.StatusRequestEntityTooLarge, "payload_too_large", "File exceeds 50MB limit", nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", "No file uploaded", nil)
		return
	}
	if fileHeader.Size > maxUploadSize {
		respond.Error(c, http.StatusRequestEntityTooLarge, "payload_too_large", "File exceeds 50MB limit", nil)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	defer file.Close()

	contentType, err := detectContentType(fileHeader, file)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}

	f, err := h.Svc.Upload(c.Request.Context(), ownerID, UploadInput{
		FileName:    fileHeader.Filename,
		ContentType: contentType,
		Body:        file,
	})
	if err != nil {
		respond.FromError(c, err)
		return
	}
	middleware.SetFileID(c, f.ID)

	respond.Created(c, gin.H{
		"message": "File uploaded successfully",
		"file":    f,
	})
}

func (h *Handler) list(c *gin.Context) {
	items, err := h.Svc.List(c.Request.Context(), middleware.UserIDFromContext(c))
	if err != nil {
		respond.FromError(c, err)
		return
	}
	respond.OK(c, gin.H{"files": items})
}

func (h *Handler) get(c *gin.Context) {
	fileID := strings.TrimSpace(c.Param("id"))
	middleware.SetFileID(c, fileID)

	dl, err := h.Svc.Get(c.Request.Context(), middleware.UserIDFromContext(c), fileID)
	if err != nil {
		respond.FromError(c, err)
		return
	}
	respond.OK(c, downloadResponse{
		DownloadURL: dl.URL,
		FileName:    dl.File.FileName,
		FileType:    dl.File.ContentType,
		FileSize:    dl.File.SizeBytes,
	})
}

func (h *Handler) delete(c *gin.Context) {
	fileID := strings.TrimSpace(c.Param("id"))
	middleware.SetFileID(c, fileID)

	if err := h.Svc.Delete(c.Request.Context(), middleware.UserIDFromContext(c), fileID); err != nil {
		respond.FromError(c, err)
		return
	}
	respond.Message(c, http.StatusOK, "File deleted successfully")
}

// detectContentType trusts the part header unless it is missing or generic,
// in which case the first 512 bytes are sniffed and the reader rewound.
func detectContentType(fh *multipart.FileHeader, file multipart.File) (string, error) {
	ct := strings.TrimSpace(fh.Header.Get("Content-Type"))
	if ct != "" && ct != defaultContentType {
		return ct, nil
	}
	var sniff [512]byte
	n, err := io.ReadFull(file, sniff[:])
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(sniff[:n]), nil
}
