package retrieval

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"harmonia_back/anamnese"
	"harmonia_back/authorization"
)

type Module struct {
	service  *Service
	profiles *anamnese.Service
}

// RegisterRoutes mounts the context endpoint for the chat orchestrator and
// the admin endpoints for curated conversation examples.
func RegisterRoutes(router *gin.Engine, service *Service, profiles *anamnese.Service, guard *authorization.Guard) (*Module, error) {
	if service == nil {
		return nil, errors.New("retrieval: service is required")
	}
	module := &Module{service: service, profiles: profiles}

	group := router.Group("/retrieval")
	group.Use(guard.RequireAuthenticated())
	group.POST("/context", module.handleRetrieveContext)

	admin := router.Group("/admin/personas/:id/examples")
	admin.Use(guard.RequireAuthenticated(), guard.RequireRole("admin"))
	admin.GET("", module.handleListExamples)
	admin.POST("", module.handleCreateExample)
	admin.DELETE("/:exampleID", module.handleDeleteExample)

	return module, nil
}

type contextRequest struct {
	PersonaID uint64   `json:"persona_id"`
	Message   string   `json:"message"`
	History   []string `json:"history"`
	ProfileID uint64   `json:"profile_id"`
}

func (m *Module) handleRetrieveContext(c *gin.Context) {
	var request contextRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	if request.PersonaID == 0 || strings.TrimSpace(request.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "persona_id and message are required"})
		return
	}

	userID := authorization.CurrentUserID(c)
	profile := m.resolveProfile(c, request.ProfileID, userID)

	result, err := m.service.RetrieveContext(c.Request.Context(), Input{
		PersonaID: request.PersonaID,
		UserID:    userID,
		Message:   request.Message,
		Profile:   profile,
		History:   request.History,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// resolveProfile prefers an explicit profile id, then falls back to the
// caller's linked profile. A missing profile is not an error; retrieval just
// runs without element boosts.
func (m *Module) resolveProfile(c *gin.Context, profileID, userID uint64) *anamnese.HealthProfile {
	if m.profiles == nil {
		return nil
	}
	if profileID != 0 {
		profile, err := m.profiles.GetProfile(c.Request.Context(), profileID)
		if err == nil {
			return profile
		}
	}
	if userID != 0 {
		profile, err := m.profiles.GetProfileForUser(c.Request.Context(), userID)
		if err == nil {
			return profile
		}
	}
	return nil
}

func (m *Module) handleListExamples(c *gin.Context) {
	personaID, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid persona id"})
		return
	}
	items, err := m.service.ListExamples(c.Request.Context(), personaID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list examples"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"examples": items})
}

func (m *Module) handleCreateExample(c *gin.Context) {
	personaID, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid persona id"})
		return
	}
	var input ExampleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	example, err := m.service.CreateExample(c.Request.Context(), personaID, input)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"example": example})
}

func (m *Module) handleDeleteExample(c *gin.Context) {
	exampleID, err := parseUintID(c.Param("exampleID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid example id"})
		return
	}
	if err := m.service.DeleteExample(c.Request.Context(), exampleID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "example not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete example"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func parseUintID(raw string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
}
