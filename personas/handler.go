package personas

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"harmonia_back/authorization"
)

type Module struct {
	service *Service
}

// RegisterRoutes mounts the public catalog reads and the admin-only writes.
func RegisterRoutes(router *gin.Engine, service *Service, guard *authorization.Guard) (*Module, error) {
	if service == nil {
		return nil, errors.New("personas: service is required")
	}
	module := &Module{service: service}

	router.GET("/personas", module.handleList)
	router.GET("/personas/:id", module.handleGet)

	admin := router.Group("/admin/personas")
	admin.Use(guard.RequireAuthenticated(), guard.RequireRole("admin"))
	admin.POST("", module.handleCreate)
	admin.PATCH("/:id", module.handleUpdate)

	return module, nil
}

func (m *Module) handleList(c *gin.Context) {
	items, err := m.service.ListActive(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list personas"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"personas": items})
}

func (m *Module) handleGet(c *gin.Context) {
	id, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid persona id"})
		return
	}
	persona, err := m.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "persona not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load persona"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"persona": persona})
}

func (m *Module) handleCreate(c *gin.Context) {
	var input PersonaInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	persona, err := m.service.Create(c.Request.Context(), input)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"persona": persona})
}

func (m *Module) handleUpdate(c *gin.Context) {
	id, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid persona id"})
		return
	}
	var update PersonaUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	persona, err := m.service.Update(c.Request.Context(), id, update)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "persona not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"persona": persona})
}

func parseUintID(raw string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
}
