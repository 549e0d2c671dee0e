package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"ticket-manager/internal/auth"
	"ticket-manager/internal/repository"
	"ticket-manager/internal/service"
)

// TokenVerifier validates session tokens presented to protected routes.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// HealthChecker reports whether the credential store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	users          service.UserService
	tokens         TokenVerifier
	health         HealthChecker
	allowedOrigins []string
	log            logrus.FieldLogger
	metrics        *metrics
}

func NewHandler(users service.UserService, tokens TokenVerifier, health HealthChecker, allowedOrigins []string, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		users:          users,
		tokens:         tokens,
		health:         health,
		allowedOrigins: allowedOrigins,
		log:            log.WithField("component", "http"),
		metrics:        newMetrics(),
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestLogger(h.log), h.metrics.instrument(), corsMiddleware(h.allowedOrigins))

	api := router.Group("/api")
	{
		api.POST("/users", h.register)
		api.POST("/login", h.login)
		api.GET("/me", h.requireAuth(), h.me)
		api.GET("/health", h.healthCheck)
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.metrics.registry, promhttp.HandlerOpts{})))
}

// Registry exposes the collectors served on /metrics.
func (h *Handler) Registry() *prometheus.Registry {
	return h.metrics.registry
}

type credentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

func (h *Handler) register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.registrations.WithLabelValues(resultInvalid).Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	_, err := h.users.Register(c.Request.Context(), req.Username, req.Password)
	switch {
	case err == nil:
		h.metrics.registrations.WithLabelValues(resultOK).Inc()
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, service.ErrInvalidInput):
		h.metrics.registrations.WithLabelValues(resultInvalid).Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
	case errors.Is(err, service.ErrRegistrationConflict):
		h.metrics.registrations.WithLabelValues(resultConflict).Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
	default:
		h.metrics.registrations.WithLabelValues(resultError).Inc()
		h.log.WithError(err).Error("register user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
	}
}

// login answers every failure with the same status and body so callers cannot
// tell an unknown username from a wrong password.
func (h *Handler) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.logins.WithLabelValues(resultInvalid).Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	res, err := h.users.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrAuthenticationFailed) {
			h.metrics.logins.WithLabelValues(resultFailed).Inc()
		} else {
			h.metrics.logins.WithLabelValues(resultError).Inc()
			h.log.WithError(err).Error("login user")
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	h.metrics.logins.WithLabelValues(resultOK).Inc()
	c.JSON(http.StatusOK, loginResponse{
		Token:     res.Token.Value,
		ExpiresAt: res.Token.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) me(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	user, err := h.users.GetByID(c.Request.Context(), identity.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}
		h.log.WithError(err).WithField("user_id", identity.UserID).Error("load current user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, userResponse{ID: user.ID, Username: user.Username})
}

func (h *Handler) healthCheck(c *gin.Context) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			h.log.WithError(err).Warn("health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": "ok"})
}
