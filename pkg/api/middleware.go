package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// usernameHeader identifies the caller. Authentication itself happens
// upstream; by the time a request reaches this service the header is
// trusted.
const usernameHeader = "X-Username"

const usernameKey = "username"

// requireUsername rejects requests without a caller identity.
func requireUsername() gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.GetHeader(usernameHeader)
		if username == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + usernameHeader + " header"})
			return
		}
		c.Set(usernameKey, username)
		c.Next()
	}
}

func callerUsername(c *gin.Context) string {
	return c.GetString(usernameKey)
}
