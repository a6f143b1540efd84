package middlewares

import (
	"context"
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/attendance_backend/utils"
	"github.com/gin-gonic/gin"
)

type authString string

// AuthMiddleware accepts a JWT bearer token as an alternative to the redis
// session header, for service-to-service callers (kiosk devices, cron).
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")

		if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
			c.Next()
			return
		}
		auth = strings.TrimPrefix(auth, "Bearer ")

		validate, err := utils.JwtValidate(auth)
		if err != nil || !validate.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		customClaim, _ := validate.Claims.(*utils.JwtCustomClaim)

		ctx := context.WithValue(c.Request.Context(), authString("auth"), customClaim)
		ctx = utils.SetUserIdInContext(ctx, customClaim.ID)
		ctx = utils.SetIsAdminInContext(ctx, customClaim.Role == "A")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func CtxValue(ctx context.Context) *utils.JwtCustomClaim {
	raw, _ := ctx.Value(authString("auth")).(*utils.JwtCustomClaim)
	return raw
}
