package server

import "github.com/gin-gonic/gin"

// respondData writes a success envelope with a payload.
func respondData(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondMessage writes a failure envelope with a caller-safe message.
func respondMessage(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"message": message,
	})
}

// respondInternal writes the generic 500 envelope. Internal detail stays in
// the logs, never in the response body.
func respondInternal(c *gin.Context) {
	respondMessage(c, 500, "Internal server error")
}
