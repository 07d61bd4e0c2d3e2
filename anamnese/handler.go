package anamnese

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

// RegisterRoutes mounts the intake endpoints. Submitting an intake is public
// (it happens before signup); linking requires an authenticated user.
func RegisterRoutes(router *gin.Engine, service *Service, guard *authorization.Guard) (*Module, error) {
	if service == nil {
		return nil, errors.New("anamnese: service is required")
	}
	module := &Module{service: service}

	router.POST("/anamnese", module.handleSubmitIntake)

	group := router.Group("/anamnese")
	group.Use(guard.RequireAuthenticated())
	group.GET("/:id", module.handleGetProfile)
	group.POST("/:id/link", module.handleLinkProfile)

	return module, nil
}

func (m *Module) handleSubmitIntake(c *gin.Context) {
	var input IntakeInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	profile, err := m.service.SubmitIntake(c.Request.Context(), input)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"profile": profile})
}

func (m *Module) handleGetProfile(c *gin.Context) {
	profileID, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile id"})
		return
	}

	profile, err := m.service.GetProfile(c.Request.Context(), profileID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load profile"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": profile})
}

func (m *Module) handleLinkProfile(c *gin.Context) {
	profileID, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile id"})
		return
	}

	userID := authorization.CurrentUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	if err := m.service.LinkToUser(c.Request.Context(), profileID, userID); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		case errors.Is(err, ErrAlreadyLinked):
			c.JSON(http.StatusConflict, gin.H{"error": "profile already linked"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to link profile"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"linked": true})
}

func parseUintID(raw string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
}
