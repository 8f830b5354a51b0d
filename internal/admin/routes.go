package admin

import (
	"log/slog"

	"numgate/internal/db"
	"numgate/internal/session"

	"github.com/gin-gonic/gin"
)

// SetupRoutes registers the management API. Everything except login sits
// behind the session middleware.
func SetupRoutes(router *gin.Engine, dbService db.Service, sessions *session.Authority, logger *slog.Logger) {
	handler := NewHandler(dbService, sessions, logger)

	router.POST("/admin/login", handler.LoginHandler)

	adminGroup := router.Group("/admin")
	adminGroup.Use(SessionMiddleware(sessions))
	{
		adminGroup.POST("/logout", handler.LogoutHandler)
		adminGroup.POST("/password", handler.ChangePasswordHandler)

		keysGroup := adminGroup.Group("/keys")
		{
			keysGroup.GET("", handler.ListKeysHandler)
			keysGroup.POST("", handler.CreateKeyHandler)
			keysGroup.GET("/:id", handler.GetKeyHandler)
			keysGroup.PUT("/:id", handler.UpdateKeyHandler)
			keysGroup.POST("/:id/pause", handler.PauseKeyHandler)
			keysGroup.POST("/:id/resume", handler.ResumeKeyHandler)
			keysGroup.POST("/:id/revoke", handler.RevokeKeyHandler)
		}

		usersGroup := adminGroup.Group("/users")
		{
			usersGroup.GET("", handler.ListUsersHandler)
			usersGroup.POST("", handler.CreateUserHandler)
			usersGroup.POST("/:id/activate", handler.ActivateUserHandler)
			usersGroup.POST("/:id/deactivate", handler.DeactivateUserHandler)
		}

		adminGroup.GET("/usage", handler.ListUsageHandler)
	}
}
