package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pharmatrust/pharmaledger/internal/auth"
)

// AuthHandler exchanges the configured admin secret for operator tokens.
type AuthHandler struct {
	issuer      *auth.TokenIssuer
	adminSecret string // bcrypt hash or plaintext dev secret
	logger      *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(issuer *auth.TokenIssuer, adminSecret string, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{issuer: issuer, adminSecret: adminSecret, logger: logger}
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/token", h.IssueToken)
}

type tokenRequest struct {
	Secret string `json:"secret" binding:"required"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// IssueToken handles POST /auth/token.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !auth.VerifySecret(h.adminSecret, req.Secret) {
		h.logger.Warn("token exchange rejected", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
		return
	}

	name, role := req.Name, req.Role
	if name == "" {
		name = "operator"
	}
	if role == "" {
		role = "pharmacist"
	}

	token, err := h.issuer.Issue(name, role)
	if err != nil {
		h.logger.Error("issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"expiresIn": int(h.issuer.TTL() / time.Second),
	})
}
