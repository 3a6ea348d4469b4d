package api

import (
	"net/http"

	"github.com/formy-ai/formy/pkg/auth"
	"github.com/gin-gonic/gin"
)

type sendCodeRequest struct {
	Email string `json:"email" binding:"required"`
}

type codeLoginRequest struct {
	Email string `json:"email" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

type signupRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Username string `json:"username"`
}

type setPasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

type passwordLoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// AuthHandler serves the /auth endpoints.
type AuthHandler struct {
	svc *auth.Service
}

// NewAuthHandler creates the handler.
func NewAuthHandler(svc *auth.Service) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// SendCode emails a verification code.
func (h *AuthHandler) SendCode(c *gin.Context) {
	var req sendCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
		return
	}
	if err := h.svc.SendCode(c.Request.Context(), req.Email); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"expires_in": int(h.svc.CodeTTL().Seconds()),
	})
}

// Login signs in with an emailed code, creating the account on first use.
func (h *AuthHandler) Login(c *gin.Context) {
	var req codeLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
		return
	}
	result, err := h.svc.LoginWithCode(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Signup creates a password-protected account. An already registered email
// is a client error.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
		return
	}
	result, err := h.svc.Signup(c.Request.Context(), req.Email, req.Password, req.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"user":    result.User,
		"tokens":  result.Tokens,
		"message": "account created",
	})
}

// SetPassword sets or replaces the authenticated account's password.
func (h *AuthHandler) SetPassword(c *gin.Context) {
	var req setPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
		return
	}
	if err := h.svc.SetPassword(c.Request.Context(), auth.UserID(c), req.Password); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// LoginPassword signs in with email and password.
func (h *AuthHandler) LoginPassword(c *gin.Context) {
	var req passwordLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
		return
	}
	result, err := h.svc.LoginWithPassword(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Refresh rotates a refresh token.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
		return
	}
	tokens, err := h.svc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

// Me returns the authenticated account.
func (h *AuthHandler) Me(c *gin.Context) {
	info, err := h.svc.Me(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}
