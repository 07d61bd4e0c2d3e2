package knowledge

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"harmonia_back/authorization"
)

// Module exposes the ingestion endpoints. Retrieval has its own module; this
// one is the admin-facing document surface.
type Module struct {
	service *Service
}

const maxUploadBytes = 5 << 20

// RegisterRoutes mounts the knowledge document endpoints. Mutating routes
// require authentication through the guard.
func RegisterRoutes(router *gin.Engine, service *Service, guard *authorization.Guard) (*Module, error) {
	if service == nil {
		return nil, errors.New("knowledge: service is required")
	}
	module := &Module{service: service}

	group := router.Group("/personas/:id/knowledge")
	group.Use(guard.RequireAuthenticated())
	group.GET("", module.handleListDocuments)
	group.POST("", module.handleIngestDocument)
	group.POST("/batch", module.handleIngestBatch)

	docs := router.Group("/knowledge/:docID")
	docs.Use(guard.RequireAuthenticated())
	docs.GET("", module.handleGetDocument)
	docs.PATCH("", module.handleUpdateDocument)
	docs.DELETE("", module.handleDeleteDocument)

	return module, nil
}

func (m *Module) handleListDocuments(c *gin.Context) {
	personaID, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid persona id"})
		return
	}
	records, err := m.service.ListDocuments(c.Request.Context(), personaID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": records})
}

func (m *Module) handleIngestDocument(c *gin.Context) {
	personaID, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid persona id"})
		return
	}

	input, err := bindDocumentInput(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := m.service.CreateDocument(c.Request.Context(), personaID, input)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"document_id":    record.ID,
		"chunks_created": record.ChunkCount,
		"document":       record,
	})
}

func (m *Module) handleIngestBatch(c *gin.Context) {
	personaID, err := parseUintID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid persona id"})
		return
	}

	var req struct {
		Documents []DocumentInput `json:"documents"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	if len(req.Documents) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "documents are required"})
		return
	}

	report := m.service.IngestBatch(c.Request.Context(), personaID, req.Documents)
	c.JSON(http.StatusOK, gin.H{"report": report})
}

func (m *Module) handleGetDocument(c *gin.Context) {
	docID, err := parseUintID(c.Param("docID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}
	record, err := m.service.GetDocument(c.Request.Context(), docID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": record})
}

func (m *Module) handleUpdateDocument(c *gin.Context) {
	docID, err := parseUintID(c.Param("docID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}

	var changes DocumentUpdate
	if err := c.ShouldBindJSON(&changes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	record, err := m.service.UpdateDocument(c.Request.Context(), docID, changes)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": record})
}

func (m *Module) handleDeleteDocument(c *gin.Context) {
	docID, err := parseUintID(c.Param("docID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return
	}
	if err := m.service.DeleteDocument(c.Request.Context(), docID); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// bindDocumentInput accepts either a JSON payload or a multipart form with a
// "file" part.
func bindDocumentInput(c *gin.Context) (DocumentInput, error) {
	var input DocumentInput
	contentType := c.ContentType()
	if strings.HasPrefix(contentType, "multipart/") {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			return input, errors.New("file part is required")
		}
		if fileHeader.Size > maxUploadBytes {
			return input, errors.New("file exceeds upload limit")
		}
		file, err := fileHeader.Open()
		if err != nil {
			return input, errors.New("failed to read file")
		}
		defer file.Close()
		raw, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
		if err != nil {
			return input, errors.New("failed to read file")
		}
		input.Raw = raw
		input.Filename = fileHeader.Filename
		input.Title = strings.TrimSpace(c.PostForm("title"))
		input.ContentType = strings.TrimSpace(c.PostForm("content_type"))
		if tags := strings.TrimSpace(c.PostForm("tags")); tags != "" {
			input.Tags = strings.Split(tags, ",")
		}
		return input, nil
	}

	if err := c.ShouldBindJSON(&input); err != nil {
		return input, errors.New("invalid request payload")
	}
	return input, nil
}

func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrProvider):
		// Raw provider errors stay in logs and the admin debug view.
		c.JSON(http.StatusBadGateway, gin.H{"error": "embedding provider unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseUintID(raw string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
}
