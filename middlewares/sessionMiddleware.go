package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/okkarsoft/moneybook_backend/config"
	"github.com/okkarsoft/moneybook_backend/utils"
)

// Session is the redis-stored login state, keyed by "Session:<token>".
type Session struct {
	TenantId string `json:"tenant_id"`
	UserId   int    `json:"user_id"`
	UserName string `json:"user_name"`
	IsAdmin  bool   `json:"is_admin"`
}

// SessionMiddleware resolves the token header to a redis session and puts
// the tenant and user identity on the request context. Requests without a
// token pass through; route guards decide what needs one.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}

		var session Session
		exists, err := config.GetRedisObject("Session:"+token, &session)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := c.Request.Context()
		ctx = utils.SetTokenInContext(ctx, token)
		ctx = utils.SetTenantIdInContext(ctx, session.TenantId)
		ctx = utils.SetUserIdInContext(ctx, session.UserId)
		ctx = utils.SetUserNameInContext(ctx, session.UserName)
		ctx = utils.SetIsAdminInContext(ctx, session.IsAdmin)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireSession rejects requests that never passed session resolution.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, ok := utils.GetTenantIdFromContext(c.Request.Context())
		if !ok || tenantId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// CorrelationMiddleware tags every request with a correlation id, taken
// from the X-Correlation-Id header or freshly generated.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationId := c.Request.Header.Get("X-Correlation-Id")
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationId)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set("X-Correlation-Id", correlationId)
		c.Next()
	}
}
