package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"tai-ledger-api/internal/models"
	"tai-ledger-api/internal/service"
	apperrors "tai-ledger-api/pkg/errors"
)

const (
	ContextUserID = "user_id"
	ContextRole   = "role"
	ContextClaims = "jwt_claims"
)

// TokenValidator is the part of the auth service the middleware needs.
type TokenValidator interface {
	ValidateToken(tokenString string) (*service.Claims, error)
}

type AuthMiddleware struct {
	tokens TokenValidator
}

func NewAuthMiddleware(tokens TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// JWTAuth validates the bearer token and stores the caller in the context.
func (a *AuthMiddleware) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithError(c, apperrors.NewUnauthorizedError("Authorization header required"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			abortWithError(c, apperrors.NewAppError(apperrors.KindUnauthorized,
				"Invalid authorization format", "Authorization header must be 'Bearer <token>'"))
			return
		}

		claims, err := a.tokens.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			abortWithError(c, apperrors.AsAppError(err))
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, claims.Role)
		c.Set(ContextClaims, claims)
		c.Next()
	}
}

// RequireAdmin rejects callers whose token does not carry the admin role.
// The admin service checks the stored role again on every call.
func (a *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get(ContextRole)
		if r, ok := role.(models.Role); !ok || r != models.RoleAdmin {
			abortWithError(c, apperrors.ErrAccessDenied)
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated account id set by JWTAuth.
func UserID(c *gin.Context) (int64, bool) {
	v, exists := c.Get(ContextUserID)
	if !exists {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok && id > 0
}

func abortWithError(c *gin.Context, err *apperrors.AppError) {
	c.AbortWithStatusJSON(err.Code, err)
}
