package local

import (
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"filevault/internal/shared/server/respond"
)

// Handler serves blob bytes for requests carrying a valid capability URL.
type Handler struct {
	store  *Store
	signer *Signer
}

// NewHandler wires the blob handler.
func NewHandler(store *Store, signer *Signer) *Handler {
	return &Handler{store: store, signer: signer}
}

// RegisterRoutes mounts GET /blobs/*key on r.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET(blobRoutePrefix+"*key", h.serve)
}

func (h *Handler) serve(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if err := h.signer.Verify(key, c.Query("expires"), c.Query("signature")); err != nil {
		respond.Error(c, http.StatusForbidden, "forbidden", "Invalid or expired link", nil)
		return
	}

	f, err := h.store.Open(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			respond.Error(c, http.StatusNotFound, "not_found", "Not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal", "Internal server error", nil)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal", "Internal server error", nil)
		return
	}
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		c.Header("Content-Type", ct)
	}
	c.Header("Cache-Control", "private, no-store")
	http.ServeContent(c.Writer, c.Request, "", info.ModTime(), f)
}
