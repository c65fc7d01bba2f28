package response

import "github.com/gin-gonic/gin"

func Success(c *gin.Context, status int, data any) {
	c.JSON(status, data)
}

func Error(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func ErrorWithMessage(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}
