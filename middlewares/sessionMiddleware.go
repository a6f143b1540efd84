package middlewares

import (
	"net/http"

	"bitbucket.org/mmdatafocus/attendance_backend/models"
	"bitbucket.org/mmdatafocus/attendance_backend/utils"
	"github.com/gin-gonic/gin"
)

// SessionMiddleware resolves the opaque session token header into the
// signed-in user. Requests without a token pass through anonymous; the
// admin-gated handlers check the context themselves.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		username, exists, err := utils.LookupSessionToken(token)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUsernameInContext(ctx, username)

		user, err := models.GetUserByUsername(ctx, username)
		if err == nil && user != nil {
			ctx = utils.SetUserIdInContext(ctx, user.ID)
			ctx = utils.SetUserNameInContext(ctx, user.Name)
			ctx = utils.SetIsAdminInContext(ctx, user.Role == models.UserRoleAdmin)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
