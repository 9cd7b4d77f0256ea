package api

import "github.com/gin-gonic/gin"

// extractRequester extracts the requesting identity from oauth2-proxy
// headers so submitted intents can be attributed. Priority:
// X-Forwarded-User > X-Forwarded-Email > "api-client".
func extractRequester(c *gin.Context) string {
	if user := c.GetHeader("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.GetHeader("X-Forwarded-Email"); email != "" {
		return email
	}
	return "api-client"
}
