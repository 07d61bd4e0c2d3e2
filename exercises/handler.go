package exercises

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"harmonia_back/authorization"
)

type Module struct {
	service *Service
}

// RegisterRoutes mounts the catalog read endpoints plus the admin-only
// reindex trigger.
func RegisterRoutes(router *gin.Engine, service *Service, guard *authorization.Guard) (*Module, error) {
	if service == nil {
		return nil, errors.New("exercises: service is required")
	}
	module := &Module{service: service}

	router.GET("/exercises", module.handleList)

	admin := router.Group("/admin/exercises")
	admin.Use(guard.RequireAuthenticated(), guard.RequireRole("admin"))
	admin.POST("/reindex", module.handleReindex)

	return module, nil
}

func (m *Module) handleList(c *gin.Context) {
	element := strings.TrimSpace(c.Query("element"))
	var (
		items []Exercise
		err   error
	)
	if element != "" {
		items, err = m.service.ListByElement(c.Request.Context(), element)
	} else {
		items, err = m.service.ListEnabled(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"exercises": items})
}

func (m *Module) handleReindex(c *gin.Context) {
	updated, err := m.service.Reindex(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reindexed": updated})
}
