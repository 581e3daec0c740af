package api

import (
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/gin-gonic/gin"

	"acfleet/internal/apperr"
	"acfleet/internal/db"
	"acfleet/internal/models"
	"acfleet/internal/scheduler"
	"acfleet/internal/web/middleware"
)

// RoutineDeps bundles what the routine routes need.
type RoutineDeps struct {
	DB        *db.DB
	Scheduler *scheduler.Scheduler
}

type routineRequest struct {
	Name     string           `json:"name" binding:"required"`
	Enabled  *bool            `json:"enabled"`
	Cron     string           `json:"cron"`
	Triggers []models.Trigger `json:"triggers"`
	Actions  []models.Action  `json:"actions" binding:"required"`
}

// validate rejects routines that could never fire: no schedule and no
// triggers, or no actions to run.
func (r routineRequest) validate() error {
	if r.Cron == "" && len(r.Triggers) == 0 {
		return fmt.Errorf("routine needs a cron schedule or triggers: %w", apperr.ErrValidation)
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("routine needs at least one action: %w", apperr.ErrValidation)
	}
	return nil
}

func fetchOwnedRoutine(c *gin.Context, database *db.DB) (*models.Routine, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(400, gin.H{"error": "Invalid routine id"})
		return nil, false
	}
	routine, err := database.GetRoutineByID(c, id)
	if errors.Is(err, apperr.ErrNotFound) {
		c.JSON(404, gin.H{"error": "Routine not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(500, gin.H{"error": "Failed to fetch routine"})
		return nil, false
	}
	if routine.OwnerID != middleware.UserID(c) {
		c.JSON(403, gin.H{"error": "Access denied"})
		return nil, false
	}
	return routine, true
}

func RegisterRoutineRoutes(r *gin.Engine, mw *middleware.MiddlewareManager, deps RoutineDeps) {
	routines := r.Group("/routines")
	routines.Use(mw.RequireAuth())
	{
		routines.GET("", func(c *gin.Context) {
			list, err := deps.DB.GetRoutinesByOwner(c, middleware.UserID(c), false)
			if err != nil {
				c.JSON(500, gin.H{"error": "Failed to fetch routines"})
				return
			}
			c.JSON(200, list)
		})

		routines.POST("", func(c *gin.Context) {
			var req routineRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(400, gin.H{"error": "Invalid request"})
				return
			}
			if err := req.validate(); err != nil {
				c.JSON(400, gin.H{"error": err.Error()})
				return
			}
			routine := &models.Routine{
				Name:     req.Name,
				Enabled:  true,
				Cron:     req.Cron,
				Triggers: req.Triggers,
				Actions:  req.Actions,
				OwnerID:  middleware.UserID(c),
			}
			if req.Enabled != nil {
				routine.Enabled = *req.Enabled
			}
			if err := deps.DB.InsertRoutine(c, routine); err != nil {
				c.JSON(500, gin.H{"error": "Failed to create routine"})
				return
			}
			if err := deps.Scheduler.AddOrUpdateRoutine(routine.ID, routine.Cron, routine.Enabled); err != nil {
				log.Printf("WEB: Failed to schedule routine %d: %v", routine.ID, err)
			}
			c.JSON(201, routine)
		})

		routines.GET("/:id", func(c *gin.Context) {
			routine, ok := fetchOwnedRoutine(c, deps.DB)
			if !ok {
				return
			}
			c.JSON(200, routine)
		})

		routines.PATCH("/:id", func(c *gin.Context) {
			routine, ok := fetchOwnedRoutine(c, deps.DB)
			if !ok {
				return
			}
			var req routineRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(400, gin.H{"error": "Invalid request"})
				return
			}
			if err := req.validate(); err != nil {
				c.JSON(400, gin.H{"error": err.Error()})
				return
			}
			routine.Name = req.Name
			routine.Cron = req.Cron
			routine.Triggers = req.Triggers
			routine.Actions = req.Actions
			if req.Enabled != nil {
				routine.Enabled = *req.Enabled
			}
			if err := deps.DB.UpdateRoutine(c, routine); err != nil {
				c.JSON(500, gin.H{"error": "Failed to update routine"})
				return
			}
			if err := deps.Scheduler.AddOrUpdateRoutine(routine.ID, routine.Cron, routine.Enabled); err != nil {
				log.Printf("WEB: Failed to reschedule routine %d: %v", routine.ID, err)
			}
			c.JSON(200, routine)
		})

		routines.DELETE("/:id", func(c *gin.Context) {
			routine, ok := fetchOwnedRoutine(c, deps.DB)
			if !ok {
				return
			}
			deps.Scheduler.RemoveRoutine(routine.ID)
			if err := deps.DB.DeleteRoutine(c, routine.ID); err != nil {
				c.JSON(500, gin.H{"error": "Failed to delete routine"})
				return
			}
			c.JSON(200, gin.H{"status": "deleted"})
		})
	}
}
