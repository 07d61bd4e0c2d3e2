package knowledge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// stubEmbedder returns canned vectors keyed by exact input text. Unknown
// inputs get the fallback vector so chunked content still embeds.
type stubEmbedder struct {
	mu       sync.Mutex
	calls    int
	vectors  map[string][]float32
	fallback []float32
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{
		vectors:  make(map[string][]float32),
		fallback: []float32{1, 0, 0},
	}
}

func (s *stubEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	vectors := make([][]float32, len(inputs))
	for i, input := range inputs {
		if vector, ok := s.vectors[input]; ok {
			vectors[i] = vector
		} else {
			vectors[i] = s.fallback
		}
	}
	return vectors, nil
}

func (s *stubEmbedder) Model() string { return "stub-embedder-v1" }

func (s *stubEmbedder) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&Document{}, &Chunk{}))
	return db
}

func newTestService(t *testing.T, embedder Embedder) *Service {
	t.Helper()
	service, err := NewService(newTestDB(t), embedder, WithChunkTarget(50))
	require.NoError(t, err)
	// SQLite serializes writers; a single worker keeps batch tests stable.
	service.poolSize = 1
	return service
}

func TestCreateDocumentIngestsChunks(t *testing.T) {
	service := newTestService(t, newStubEmbedder())

	content := strings.Join([]string{
		strings.Repeat("a madeira rege o fígado e a vesícula ", 8),
		strings.Repeat("o fogo rege o coração e a alegria ", 8),
		strings.Repeat("a terra rege o baço e a digestão ", 8),
	}, "\n\n")

	record, err := service.CreateDocument(context.Background(), 1, DocumentInput{
		Title:   "Teoria dos elementos",
		Content: content,
		Tags:    []string{"teoria"},
	})

	require.NoError(t, err)
	assert.Equal(t, "Teoria dos elementos", record.Title)
	assert.True(t, record.ChunkCount > 1)
	assert.True(t, record.Active)

	var chunks []Chunk
	require.NoError(t, service.db.Order("seq ASC").Find(&chunks).Error)
	require.Len(t, chunks, record.ChunkCount)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Seq)
		assert.Equal(t, record.ID, chunk.DocumentID)
		assert.Equal(t, uint64(1), chunk.PersonaID)
		assert.Equal(t, "stub-embedder-v1", chunk.EmbeddingModel)
		assert.NotEmpty(t, chunk.VectorID)
		assert.Contains(t, parseTags(chunk.Tags), "teoria")
	}
}

func TestCreateDocumentValidation(t *testing.T) {
	service := newTestService(t, newStubEmbedder())

	_, err := service.CreateDocument(context.Background(), 0, DocumentInput{Content: "texto"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = service.CreateDocument(context.Background(), 1, DocumentInput{Content: "   "})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateDocumentFrontmatterFillsGaps(t *testing.T) {
	service := newTestService(t, newStubEmbedder())

	content := "---\ntitle: Respiração do Metal\nelement: metal\ntags: [pulmão]\n---\nA respiração profunda fortalece o pulmão."
	record, err := service.CreateDocument(context.Background(), 1, DocumentInput{Content: content})

	require.NoError(t, err)
	assert.Equal(t, "Respiração do Metal", record.Title)
	assert.Equal(t, "metal", record.Metadata.Element)
	assert.Contains(t, record.Tags, "pulmão")
}

func TestCreateDocumentDropsUnknownElement(t *testing.T) {
	service := newTestService(t, newStubEmbedder())

	content := "---\nelement: plasma\n---\nCorpo do documento sobre energia."
	record, err := service.CreateDocument(context.Background(), 1, DocumentInput{Content: content})

	require.NoError(t, err)
	assert.Empty(t, record.Metadata.Element)
}

func TestUpdateDocumentSameContentIsIdempotent(t *testing.T) {
	embedder := newStubEmbedder()
	service := newTestService(t, embedder)

	content := "A água rege o rim e a escuta profunda."
	record, err := service.CreateDocument(context.Background(), 1, DocumentInput{Title: "Água", Content: content})
	require.NoError(t, err)
	callsAfterCreate := embedder.callCount()

	updated, err := service.UpdateDocument(context.Background(), record.ID, DocumentUpdate{Content: &content})

	require.NoError(t, err)
	assert.Equal(t, record.ChunkCount, updated.ChunkCount)
	assert.Equal(t, callsAfterCreate, embedder.callCount(), "identical content must not re-embed")
}

func TestUpdateDocumentChangedContentReplacesChunks(t *testing.T) {
	embedder := newStubEmbedder()
	service := newTestService(t, embedder)

	record, err := service.CreateDocument(context.Background(), 1, DocumentInput{Title: "Doc", Content: "conteúdo original"})
	require.NoError(t, err)

	var before []Chunk
	require.NoError(t, service.db.Find(&before).Error)

	newContent := "conteúdo totalmente novo sobre o elemento fogo"
	updated, err := service.UpdateDocument(context.Background(), record.ID, DocumentUpdate{Content: &newContent})
	require.NoError(t, err)

	var after []Chunk
	require.NoError(t, service.db.Find(&after).Error)
	require.Len(t, after, updated.ChunkCount)
	for _, chunk := range after {
		for _, old := range before {
			assert.NotEqual(t, old.VectorID, chunk.VectorID)
		}
		assert.Contains(t, updated.Content, chunk.Content)
	}
}

func TestUpdateDocumentMetadataOnlyKeepsChunks(t *testing.T) {
	embedder := newStubEmbedder()
	service := newTestService(t, embedder)

	record, err := service.CreateDocument(context.Background(), 1, DocumentInput{Title: "Doc", Content: "conteúdo fixo"})
	require.NoError(t, err)
	callsAfterCreate := embedder.callCount()

	newTitle := "Título revisado"
	priority := 5
	updated, err := service.UpdateDocument(context.Background(), record.ID, DocumentUpdate{Title: &newTitle, Priority: &priority})

	require.NoError(t, err)
	assert.Equal(t, "Título revisado", updated.Title)
	assert.Equal(t, 5, updated.Priority)
	assert.Equal(t, record.ChunkCount, updated.ChunkCount)
	assert.Equal(t, callsAfterCreate, embedder.callCount())
}

func TestUpdateDocumentContentFrontmatterRefreshesFields(t *testing.T) {
	service := newTestService(t, newStubEmbedder())

	created, err := service.CreateDocument(context.Background(), 1, DocumentInput{
		Content: "---\ntitle: Terra\nelement: earth\n---\nA terra sustenta o centro e a digestão.",
	})
	require.NoError(t, err)
	require.Equal(t, "earth", created.Metadata.Element)

	newContent := "---\ntitle: Fogo\nelement: fire\ntags: [coração]\n---\nO fogo rege o coração e a circulação."
	updated, err := service.UpdateDocument(context.Background(), created.ID, DocumentUpdate{Content: &newContent})
	require.NoError(t, err)

	assert.Equal(t, "Fogo", updated.Title)
	assert.Equal(t, "fire", updated.Metadata.Element)
	assert.Contains(t, updated.Tags, "coração")

	var chunks []Chunk
	require.NoError(t, service.db.Where("document_id = ?", created.ID).Find(&chunks).Error)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.Equal(t, "fire", ParseMetadata(chunk.Metadata).Element)
	}
}

func TestUpdateDocumentPayloadWinsOverFrontmatter(t *testing.T) {
	service := newTestService(t, newStubEmbedder())

	created, err := service.CreateDocument(context.Background(), 1, DocumentInput{Title: "Original", Content: "corpo original"})
	require.NoError(t, err)

	title := "Explícito"
	newContent := "---\ntitle: Da Frontmatter\n---\ncorpo revisado"
	updated, err := service.UpdateDocument(context.Background(), created.ID, DocumentUpdate{Title: &title, Content: &newContent})

	require.NoError(t, err)
	assert.Equal(t, "Explícito", updated.Title)
}

func TestUpdateDocumentNotFound(t *testing.T) {
	service := newTestService(t, newStubEmbedder())

	title := "x"
	_, err := service.UpdateDocument(context.Background(), 999, DocumentUpdate{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteDocumentCascades(t *testing.T) {
	service := newTestService(t, newStubEmbedder())

	record, err := service.CreateDocument(context.Background(), 1, DocumentInput{Title: "Doc", Content: "conteúdo para apagar"})
	require.NoError(t, err)

	require.NoError(t, service.DeleteDocument(context.Background(), record.ID))

	var docCount, chunkCount int64
	service.db.Model(&Document{}).Count(&docCount)
	service.db.Model(&Chunk{}).Count(&chunkCount)
	assert.Zero(t, docCount)
	assert.Zero(t, chunkCount)

	assert.ErrorIs(t, service.DeleteDocument(context.Background(), record.ID), ErrNotFound)
}

// stubArchiver records removals so tests can assert archive cleanup.
type stubArchiver struct {
	removed []string
}

func (a *stubArchiver) Save(_ context.Context, personaID uint64, filename string, _ []byte) (string, error) {
	return fmt.Sprintf("documents/%d/%s", personaID, filename), nil
}

func (a *stubArchiver) Remove(_ context.Context, key string) error {
	a.removed = append(a.removed, key)
	return nil
}

func TestDeleteDocumentRemovesArchivedSource(t *testing.T) {
	archive := &stubArchiver{}
	service, err := NewService(newTestDB(t), newStubEmbedder(), WithChunkTarget(50), WithArchive(archive))
	require.NoError(t, err)
	service.poolSize = 1

	record, err := service.CreateDocument(context.Background(), 1, DocumentInput{
		Raw:      []byte("conteúdo bruto arquivado para consulta posterior"),
		Filename: "notas.md",
	})
	require.NoError(t, err)
	require.NotNil(t, record.SourceKey)

	require.NoError(t, service.DeleteDocument(context.Background(), record.ID))
	assert.Equal(t, []string{*record.SourceKey}, archive.removed)
}

func TestSearchRanksAndFiltersByThreshold(t *testing.T) {
	embedder := newStubEmbedder()
	embedder.vectors["O fígado filtra o sangue."] = []float32{1, 0, 0}
	embedder.vectors["O coração bombeia alegria."] = []float32{0.6, 0.8, 0}
	embedder.vectors["fígado"] = []float32{1, 0, 0}
	service := newTestService(t, embedder)

	_, err := service.CreateDocument(context.Background(), 1, DocumentInput{Title: "Fígado", Content: "O fígado filtra o sangue."})
	require.NoError(t, err)
	_, err = service.CreateDocument(context.Background(), 1, DocumentInput{Title: "Coração", Content: "O coração bombeia alegria."})
	require.NoError(t, err)

	matches, err := service.Search(context.Background(), 1, "fígado", RankOptions{Threshold: 0.5, TopK: 10})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "Fígado", matches[0].DocumentTitle)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-6)
	assert.Equal(t, "Coração", matches[1].DocumentTitle)

	strict, err := service.Search(context.Background(), 1, "fígado", RankOptions{Threshold: 0.7, TopK: 10})
	require.NoError(t, err)
	require.Len(t, strict, 1)
	assert.Equal(t, "Fígado", strict[0].DocumentTitle)
}

func TestSearchSkipsInactiveDocuments(t *testing.T) {
	embedder := newStubEmbedder()
	service := newTestService(t, embedder)

	record, err := service.CreateDocument(context.Background(), 1, DocumentInput{Title: "Doc", Content: "conteúdo pesquisável"})
	require.NoError(t, err)

	inactive := false
	_, err = service.UpdateDocument(context.Background(), record.ID, DocumentUpdate{Active: &inactive})
	require.NoError(t, err)

	matches, err := service.Search(context.Background(), 1, "conteúdo", RankOptions{Threshold: 0.1})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchIgnoresOtherPersonas(t *testing.T) {
	service := newTestService(t, newStubEmbedder())

	_, err := service.CreateDocument(context.Background(), 2, DocumentInput{Title: "Outro", Content: "conteúdo de outra persona"})
	require.NoError(t, err)

	matches, err := service.Search(context.Background(), 1, "conteúdo", RankOptions{Threshold: 0.1})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestIngestBatchReportsPerDocument(t *testing.T) {
	service := newTestService(t, newStubEmbedder())

	report := service.IngestBatch(context.Background(), 1, []DocumentInput{
		{Title: "Válido", Content: "conteúdo válido para ingestão"},
		{Title: "Inválido", Content: "   "},
		{Title: "Também válido", Content: "outro conteúdo aproveitável"},
	})

	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Items, 3)
	assert.Empty(t, report.Items[0].Error)
	assert.NotEmpty(t, report.Items[1].Error)
	assert.Empty(t, report.Items[2].Error)
	assert.NotZero(t, report.Items[0].DocumentID)
	assert.Zero(t, report.Items[1].DocumentID)
}

func TestIngestBatchEmpty(t *testing.T) {
	service := newTestService(t, newStubEmbedder())
	report := service.IngestBatch(context.Background(), 1, nil)
	assert.Zero(t, report.Succeeded)
	assert.Zero(t, report.Failed)
	assert.Empty(t, report.Items)
}
