// ABOUTME: Gin middleware enforcing bearer-token auth on the HTTP API
// ABOUTME: No-op when no verifier is configured

package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// subjectKey is the gin context key for the authenticated subject.
const subjectKey = "auth_subject"

// Middleware returns a gin handler that requires a valid bearer token.
// A nil verifier disables authentication entirely.
func Middleware(verifier TokenVerifier) gin.HandlerFunc {
	if verifier == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status":  false,
				"message": "missing bearer token",
			})
			return
		}

		subject, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status":  false,
				"message": "invalid token",
			})
			return
		}

		c.Set(subjectKey, subject)
		c.Next()
	}
}

// Subject returns the authenticated subject for a request, if any.
func Subject(c *gin.Context) (string, bool) {
	v, ok := c.Get(subjectKey)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
