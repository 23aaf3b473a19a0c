package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UUIDValidator проверяет, что параметры с указанными именами являются валидными UUID.
// Использование: router.GET("/escrows/:id", UUIDValidator("id"), handler.GetEscrow)
func UUIDValidator(paramNames ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, name := range paramNames {
			idStr := c.Param(name)
			if idStr == "" {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error": "параметр " + name + " обязателен",
					"code":  "VALIDATION_ERROR",
				})
				return
			}

			if _, err := uuid.Parse(idStr); err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error": "параметр " + name + " должен быть валидным UUID",
					"code":  "VALIDATION_ERROR",
				})
				return
			}
		}

		c.Next()
	}
}
