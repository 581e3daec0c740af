package api

import (
	"github.com/gin-gonic/gin"

	"acfleet/auth"
)

type credentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Email    string `json:"email"`
}

func RegisterAuthRoutes(r *gin.Engine, authModule *auth.AuthModule) {
	r.POST("/auth/register", func(c *gin.Context) {
		var req credentialsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": "Invalid request"})
			return
		}
		token, err := authModule.Register(c, req.Username, req.Password, req.Email)
		if err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		c.JSON(201, gin.H{"token": token})
	})

	r.POST("/auth/login", func(c *gin.Context) {
		var req credentialsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": "Invalid request"})
			return
		}
		token, err := authModule.Login(c, req.Username, req.Password)
		if err != nil {
			c.JSON(401, gin.H{"error": "Invalid credentials"})
			return
		}
		c.JSON(200, gin.H{"token": token})
	})
}
