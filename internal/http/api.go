package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"review-api/internal/service"
)

const (
	msgUnauthorized      = "unauthorized"
	msgInvalidJSON       = "Request body must be a valid JSON object"
	msgInternal          = "Internal server error"
	msgRegistered        = "Account created successfully"
	msgDuplicate         = "User already exists. Please login"
	msgInvalidEmail      = "Invalid email address"
	msgLoggedIn          = "Login successful"
	msgInvalidLogin      = "Invalid email or password"
	msgLoggedOut         = "Successfully logged out"
	msgResetDone         = "Password reset successful. Check your email for your new password"
	msgUnregistered      = "Email address not registered"
	msgPasswordChanged   = "Password change successful. Login to continue"
	msgIncorrectPassword = "The initial password is not correct"
)

// Handler wires HTTP routes to the auth service.
type Handler struct {
	auth      service.AuthService
	logger    logrus.FieldLogger
	prefix    string
	rateLimit RateLimitConfig
}

func NewHandler(auth service.AuthService, prefix string, rl RateLimitConfig, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	prefix = "/" + strings.Trim(prefix, "/")
	return &Handler{
		auth:      auth,
		logger:    logger,
		prefix:    prefix,
		rateLimit: rl,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware(), requestLogger(h.logger))

	api := router.Group(h.prefix)
	{
		limited := api.Group("", rateLimit(h.rateLimit))
		limited.POST("/register", h.register)
		limited.POST("/login", h.login)
		limited.POST("/reset-password", h.resetPassword)

		protected := api.Group("", h.requireAuth())
		protected.POST("/logout", h.logout)
		protected.PUT("/change-password", h.changePassword)

		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

type registerRequest struct {
	Email    *string `json:"email"`
	Username *string `json:"username"`
	Password *string `json:"password"`
}

type loginRequest struct {
	Email    *string `json:"email"`
	Password *string `json:"password"`
}

type resetPasswordRequest struct {
	Email *string `json:"email"`
}

type changePasswordRequest struct {
	OldPassword *string `json:"old_password"`
	NewPassword *string `json:"new_password"`
}

type userResponse struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

type loginResponse struct {
	AccessToken string       `json:"access_token"`
	ExpiresAt   string       `json:"expires_at"`
	Message     string       `json:"message"`
	User        userResponse `json:"user"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if !h.bindJSON(c, &req) {
		return
	}

	_, err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, messageResponse{Message: msgRegistered})
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if !h.bindJSON(c, &req) {
		return
	}

	res, err := h.auth.Login(c.Request.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, loginResponse{
		AccessToken: res.AccessToken,
		ExpiresAt:   res.ExpiresAt.UTC().Format(time.RFC3339),
		Message:     msgLoggedIn,
		User: userResponse{
			Email:    res.User.Email,
			Username: res.User.Username,
		},
	})
}

func (h *Handler) logout(c *gin.Context) {
	claims, ok := claimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, messageResponse{Message: msgUnauthorized})
		return
	}
	if err := h.auth.Logout(c.Request.Context(), claims); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: msgLoggedOut})
}

func (h *Handler) resetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !h.bindJSON(c, &req) {
		return
	}

	if err := h.auth.ResetPassword(c.Request.Context(), service.ResetPasswordInput{Email: req.Email}); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, messageResponse{Message: msgResetDone})
}

func (h *Handler) changePassword(c *gin.Context) {
	claims, ok := claimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, messageResponse{Message: msgUnauthorized})
		return
	}
	var req changePasswordRequest
	if !h.bindJSON(c, &req) {
		return
	}

	err := h.auth.ChangePassword(c.Request.Context(), claims, service.ChangePasswordInput{
		OldPassword: req.OldPassword,
		NewPassword: req.NewPassword,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, messageResponse{Message: msgPasswordChanged})
}

// bindJSON decodes the body into dst and answers 400 when it is not a JSON object.
func (h *Handler) bindJSON(c *gin.Context, dst any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		c.JSON(http.StatusBadRequest, messageResponse{Message: msgInvalidJSON})
		return false
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		h.logger.WithField("path", c.FullPath()).Debugf("bind request: %v", err)
		c.JSON(http.StatusBadRequest, messageResponse{Message: msgInvalidJSON})
		return false
	}
	return true
}

// fail maps service errors onto status codes and client messages.
func (h *Handler) fail(c *gin.Context, err error) {
	status, msg := errorResponse(err)
	if status == http.StatusInternalServerError {
		h.logger.WithField("path", c.FullPath()).Errorf("request failed: %v", err)
	}
	c.JSON(status, messageResponse{Message: msg})
}

func errorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, detail(err, service.ErrValidation)
	case errors.Is(err, service.ErrInvalidEmail):
		return http.StatusBadRequest, msgInvalidEmail
	case errors.Is(err, service.ErrWeakPassword):
		return http.StatusBadRequest, detail(err, service.ErrWeakPassword)
	case errors.Is(err, service.ErrDuplicateEmail):
		return http.StatusConflict, msgDuplicate
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, msgInvalidLogin
	case errors.Is(err, service.ErrIncorrectPassword):
		return http.StatusUnauthorized, msgIncorrectPassword
	// TODO: reset-password for an unknown email keeps the original 401; switch to 404 once clients stop depending on it.
	case errors.Is(err, service.ErrUnregisteredEmail):
		return http.StatusUnauthorized, msgUnregistered
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized, msgUnauthorized
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

// detail strips the sentinel prefix from a wrapped error, e.g.
// "validation failed: email is required" becomes "Email is required".
func detail(err, sentinel error) string {
	msg := strings.TrimPrefix(err.Error(), sentinel.Error())
	msg = strings.TrimSpace(strings.TrimPrefix(msg, ":"))
	if msg == "" {
		msg = sentinel.Error()
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}
