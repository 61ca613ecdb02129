package identity

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"filevault/internal/shared/server/middleware"
	"filevault/internal/shared/server/respond"
	"filevault/internal/shared/telemetry"
)

// AvatarURLResolver turns an identity's avatar reference into a display URL.
type AvatarURLResolver interface {
	AvatarURL(ctx context.Context, id Identity) (string, error)
}

// UserView is the client-facing identity shape.
type UserView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Avatar    *string   `json:"avatar"`
	CreatedAt time.Time `json:"createdAt"`
}

type Handler struct {
	Svc     *Service
	Avatars AvatarURLResolver
}

func NewHandler(svc *Service, avatars AvatarURLResolver) *Handler {
	return &Handler{Svc: svc, Avatars: avatars}
}

// RegisterAuthRoutes mounts the unauthenticated /auth endpoints.
func (h *Handler) RegisterAuthRoutes(rg *gin.RouterGroup) {
	rg.POST("/auth/register", h.register)
	rg.POST("/auth/login", h.login)
}

// RegisterRoutes mounts the authenticated /profile endpoints.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/profile", h.profile)
	rg.PUT("/profile", h.updateProfile)
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type updateProfileRequest struct {
	Name string `json:"name"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "All fields are required", nil)
		return
	}
	if _, err := h.Svc.Register(c.Request.Context(), RegisterInput(req)); err != nil {
		respond.FromError(c, err)
		return
	}
	respond.Message(c, http.StatusCreated, "User registered successfully")
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "Invalid credentials", nil)
		return
	}
	token, id, err := h.Svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respond.FromError(c, err)
		return
	}
	respond.OK(c, gin.H{
		"token": token,
		"user":  h.View(c.Request.Context(), id),
	})
}

func (h *Handler) profile(c *gin.Context) {
	principal, ok := middleware.PrincipalFromContext(c)
	if !ok {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
		return
	}
	id, err := h.Svc.Profile(c.Request.Context(), principal.OwnerID)
	if err != nil {
		respond.FromError(c, err)
		return
	}
	respond.OK(c, h.View(c.Request.Context(), id))
}

func (h *Handler) updateProfile(c *gin.Context) {
	principal, ok := middleware.PrincipalFromContext(c)
	if !ok {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
		return
	}
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "Name is required", nil)
		return
	}
	id, err := h.Svc.UpdateName(c.Request.Context(), principal.OwnerID, req.Name)
	if err != nil {
		respond.FromError(c, err)
		return
	}
	respond.OK(c, gin.H{
		"message": "Profile updated successfully",
		"user":    h.View(c.Request.Context(), id),
	})
}

// View renders id for clients. A failure to issue the avatar URL degrades to
// a null avatar rather than failing the request.
func (h *Handler) View(ctx context.Context, id Identity) UserView {
	view := UserView{
		ID:        id.ID,
		Email:     id.Email,
		Name:      id.Name,
		CreatedAt: id.CreatedAt,
	}
	if h.Avatars == nil || id.AvatarKey == "" {
		return view
	}
	url, err := h.Avatars.AvatarURL(ctx, id)
	if err != nil {
		telemetry.Warn("identity.avatar_url_failed", map[string]any{"user_id": id.ID, "error": err.Error()})
		return view
	}
	if url != "" {
		view.Avatar = &url
	}
	return view
}
