package bootstrap

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// SetGinMode maps APP_ENV onto gin's release, test and debug modes
func SetGinMode(env string) {
	switch strings.ToLower(env) {
	case "production", "prod":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}
}
