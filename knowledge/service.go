package knowledge

import (
	"context"
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// Archiver persists raw uploaded payloads for the admin debug view. The
// object storage module satisfies it; a nil archiver disables archiving.
type Archiver interface {
	Save(ctx context.Context, personaID uint64, filename string, data []byte) (string, error)
	Remove(ctx context.Context, key string) error
}

type Service struct {
	db         *gorm.DB
	embedder   Embedder
	splitter   *splitter
	archive    Archiver
	charBudget int
	poolSize   int
}

type Option func(*Service)

// WithArchive stores raw uploads through the given archiver.
func WithArchive(archive Archiver) Option {
	return func(s *Service) { s.archive = archive }
}

// WithChunkTarget overrides the target chunk size in estimated tokens.
func WithChunkTarget(tokens int) Option {
	return func(s *Service) { s.splitter = newSplitter(tokens) }
}

// NewService wires the ingestion service with explicit dependencies.
// Credentials and lifecycle belong to the composition root, not here.
func NewService(db *gorm.DB, embedder Embedder, opts ...Option) (*Service, error) {
	if db == nil {
		return nil, errors.New("knowledge: database connection is required")
	}
	if embedder == nil {
		return nil, errors.New("knowledge: embedder is required")
	}

	service := &Service{
		db:       db,
		embedder: embedder,
		splitter: newSplitter(defaultTargetTokens),
		// Conservative character ceiling per chunk, derived from the
		// provider's 8k-token limit at ~4 chars per token.
		charBudget: 30000,
		poolSize:   4,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// NewServiceFromEnv builds the embedder and chunking configuration from the
// environment.
func NewServiceFromEnv(db *gorm.DB, opts ...Option) (*Service, error) {
	embedder, err := NewHTTPEmbedderFromEnv()
	if err != nil {
		return nil, err
	}

	target := defaultTargetTokens
	if raw := strings.TrimSpace(os.Getenv("KNOWLEDGE_CHUNK_TARGET_TOKENS")); raw != "" {
		if parsed, convErr := strconv.Atoi(raw); convErr == nil && parsed > 0 {
			target = parsed
		}
	}

	service, err := NewService(db, embedder, opts...)
	if err != nil {
		return nil, err
	}
	service.splitter = newSplitter(target)

	if raw := strings.TrimSpace(os.Getenv("KNOWLEDGE_INGEST_POOL_SIZE")); raw != "" {
		if parsed, convErr := strconv.Atoi(raw); convErr == nil && parsed > 0 {
			service.poolSize = parsed
		}
	}
	return service, nil
}

func (s *Service) AutoMigrate() error {
	return s.db.AutoMigrate(&Document{}, &Chunk{})
}

// Embedder exposes the shared embedding client so sibling modules embed with
// the same model version.
func (s *Service) Embedder() Embedder {
	return s.embedder
}

type DocumentInput struct {
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	ContentType string   `json:"content_type"`
	Category    *string  `json:"category,omitempty"`
	Priority    int      `json:"priority"`
	Tags        []string `json:"tags"`
	Metadata    Metadata `json:"metadata"`
	Filename    string   `json:"filename,omitempty"`
	Raw         []byte   `json:"-"`
}

type DocumentUpdate struct {
	Title    *string   `json:"title"`
	Content  *string   `json:"content"`
	Category *string   `json:"category"`
	Priority *int      `json:"priority"`
	Tags     *[]string `json:"tags"`
	Active   *bool     `json:"active"`
}

type DocumentRecord struct {
	ID          uint64    `json:"id"`
	PersonaID   uint64    `json:"persona_id"`
	Title       string    `json:"title"`
	Content     string    `json:"content,omitempty"`
	ContentType string    `json:"content_type"`
	Category    *string   `json:"category,omitempty"`
	Priority    int       `json:"priority"`
	Tags        []string  `json:"tags"`
	Metadata    Metadata  `json:"metadata"`
	SourceKey   *string   `json:"source_key,omitempty"`
	Active      bool      `json:"active"`
	ChunkCount  int       `json:"chunk_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateDocument runs the full ingestion pipeline for one document: parse,
// frontmatter, cleanup, split, embed, persist. Embedding happens before the
// transaction so a provider failure never leaves partial chunks behind.
func (s *Service) CreateDocument(ctx context.Context, personaID uint64, input DocumentInput) (*DocumentRecord, error) {
	if personaID == 0 {
		return nil, validationErr("persona id is required")
	}

	content := input.Content
	if content == "" && len(input.Raw) > 0 {
		content = Parse(input.Raw, input.Filename)
	}
	if strings.TrimSpace(content) == "" {
		return nil, validationErr("content is required")
	}

	frontmatter, body := ExtractFrontmatter(content)
	cleaned := CleanText(body)
	if cleaned == "" {
		return nil, validationErr("content is empty after cleanup")
	}

	doc := s.buildDocument(personaID, input, frontmatter, cleaned)
	chunks, embeddings, err := s.prepareChunks(ctx, doc)
	if err != nil {
		return nil, err
	}

	if s.archive != nil && len(input.Raw) > 0 {
		key, archiveErr := s.archive.Save(ctx, personaID, input.Filename, input.Raw)
		if archiveErr != nil {
			log.Printf("knowledge: archive raw document failed: %v", archiveErr)
		} else {
			doc.SourceKey = &key
		}
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&doc).Error; err != nil {
			return err
		}
		for i := range chunks {
			chunks[i].DocumentID = doc.ID
			chunks[i].Embedding = pgvector.NewVector(embeddings[i])
		}
		return tx.Create(&chunks).Error
	}); err != nil {
		return nil, err
	}

	record := buildDocumentRecord(doc, len(chunks), true)
	return &record, nil
}

func (s *Service) buildDocument(personaID uint64, input DocumentInput, fm Frontmatter, cleaned string) Document {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = fm.Title
	}
	if title == "" {
		title = firstLine(cleaned, 120)
	}

	category := input.Category
	if category == nil && fm.Category != "" {
		value := fm.Category
		category = &value
	}

	priority := input.Priority
	if priority == 0 {
		priority = fm.Priority
	}

	metadata := input.Metadata
	if metadata.IsZero() {
		metadata = fm.Metadata()
	}
	metadata.Element = normalizeElement(metadata.Element)

	contentType := strings.ToLower(strings.TrimSpace(input.ContentType))
	if contentType == "" {
		contentType = "text"
	}

	return Document{
		PersonaID:   personaID,
		Title:       title,
		Content:     cleaned,
		ContentType: contentType,
		Category:    category,
		Priority:    priority,
		Tags:        tagsToJSON(append(input.Tags, fm.Tags...)),
		Metadata:    metadata.ToJSON(),
		Active:      true,
	}
}

// prepareChunks splits the document and embeds every chunk. Chunks inherit
// the document tags and metadata so chunk-level filtering never joins back to
// the parent.
func (s *Service) prepareChunks(ctx context.Context, doc Document) ([]Chunk, [][]float32, error) {
	segments := s.splitter.split(doc.Content)
	if len(segments) == 0 {
		return nil, nil, validationErr("content is too short to chunk")
	}

	texts := make([]string, len(segments))
	for i, segment := range segments {
		text, truncated := TruncateForEmbedding(segment.Text, s.charBudget)
		if truncated {
			log.Printf("knowledge: chunk %d of %q exceeded embedding budget, truncated", i, doc.Title)
		}
		texts[i] = text
	}

	embeddings, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, nil, err
	}
	if len(embeddings) != len(segments) {
		return nil, nil, providerErr(errors.New("embedding count mismatch"))
	}

	chunks := make([]Chunk, len(segments))
	for i := range segments {
		chunks[i] = Chunk{
			PersonaID:      doc.PersonaID,
			Seq:            i,
			Content:        texts[i],
			EmbeddingModel: s.embedder.Model(),
			TokenCount:     EstimateTokens(texts[i]),
			VectorID:       uuid.NewString(),
			Tags:           doc.Tags,
			Metadata:       doc.Metadata,
		}
	}
	return chunks, embeddings, nil
}

// UpdateDocument applies partial changes. Chunks are regenerated only when
// the content actually changed; metadata-only edits leave embeddings alone,
// so repeating an identical update is a no-op for the chunk set. Frontmatter
// in re-uploaded content refreshes the stored fields the update payload did
// not set explicitly, so a changed `element:` takes effect without a separate
// metadata edit.
func (s *Service) UpdateDocument(ctx context.Context, docID uint64, changes DocumentUpdate) (*DocumentRecord, error) {
	var existing Document
	if err := s.db.WithContext(ctx).Take(&existing, docID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundErr("document %d", docID)
		}
		return nil, err
	}

	updated := existing
	if changes.Title != nil {
		title := strings.TrimSpace(*changes.Title)
		if title == "" {
			return nil, validationErr("title cannot be empty")
		}
		updated.Title = title
	}
	if changes.Category != nil {
		category := strings.TrimSpace(*changes.Category)
		if category == "" {
			updated.Category = nil
		} else {
			updated.Category = &category
		}
	}
	if changes.Priority != nil {
		updated.Priority = *changes.Priority
	}
	if changes.Tags != nil {
		updated.Tags = tagsToJSON(*changes.Tags)
	}
	if changes.Active != nil {
		updated.Active = *changes.Active
	}

	contentChanged := false
	if changes.Content != nil {
		fm, body := ExtractFrontmatter(*changes.Content)
		cleaned := CleanText(body)
		if cleaned == "" {
			return nil, validationErr("content cannot be empty")
		}
		contentChanged = cleaned != existing.Content
		updated.Content = cleaned

		// Explicit payload fields win; frontmatter fills the rest.
		if changes.Title == nil && fm.Title != "" {
			updated.Title = fm.Title
		}
		if changes.Category == nil && fm.Category != "" {
			category := fm.Category
			updated.Category = &category
		}
		if changes.Priority == nil && fm.Priority != 0 {
			updated.Priority = fm.Priority
		}
		if changes.Tags == nil && len(fm.Tags) > 0 {
			updated.Tags = tagsToJSON(fm.Tags)
		}
		if metadata := fm.Metadata(); !metadata.IsZero() {
			metadata.Element = normalizeElement(metadata.Element)
			updated.Metadata = metadata.ToJSON()
		}
	}

	var chunks []Chunk
	var embeddings [][]float32
	if contentChanged {
		var err error
		chunks, embeddings, err = s.prepareChunks(ctx, updated)
		if err != nil {
			return nil, err
		}
	}

	chunkCount := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Document{}).Where("id = ?", docID).Updates(map[string]interface{}{
			"title":      updated.Title,
			"content":    updated.Content,
			"category":   updated.Category,
			"priority":   updated.Priority,
			"tags":       updated.Tags,
			"metadata":   updated.Metadata,
			"active":     updated.Active,
			"updated_at": time.Now().UTC(),
		}).Error; err != nil {
			return err
		}

		if !contentChanged {
			var count int64
			if err := tx.Model(&Chunk{}).Where("document_id = ?", docID).Count(&count).Error; err != nil {
				return err
			}
			chunkCount = int(count)
			return nil
		}

		// Probe for leftovers before regenerating so an interrupted earlier
		// replacement is cleaned up rather than assumed absent.
		if err := tx.Where("document_id = ?", docID).Delete(&Chunk{}).Error; err != nil {
			return err
		}
		for i := range chunks {
			chunks[i].DocumentID = docID
			chunks[i].Embedding = pgvector.NewVector(embeddings[i])
		}
		if err := tx.Create(&chunks).Error; err != nil {
			return err
		}
		chunkCount = len(chunks)
		return nil
	})
	if err != nil {
		return nil, err
	}

	record := buildDocumentRecord(updated, chunkCount, true)
	return &record, nil
}

// DeleteDocument removes the document, cascades to its chunks and cleans up
// the archived source object, if any. Archive removal is best effort: the
// database delete stands even when the object store is unreachable.
func (s *Service) DeleteDocument(ctx context.Context, docID uint64) error {
	var doc Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Take(&doc, docID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFoundErr("document %d", docID)
			}
			return err
		}
		if err := tx.Where("document_id = ?", docID).Delete(&Chunk{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Document{}, docID).Error
	})
	if err != nil {
		return err
	}

	if s.archive != nil && doc.SourceKey != nil {
		if removeErr := s.archive.Remove(ctx, *doc.SourceKey); removeErr != nil {
			log.Printf("knowledge: remove archived source %s failed: %v", *doc.SourceKey, removeErr)
		}
	}
	return nil
}

func (s *Service) GetDocument(ctx context.Context, docID uint64) (*DocumentRecord, error) {
	var doc Document
	if err := s.db.WithContext(ctx).Take(&doc, docID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundErr("document %d", docID)
		}
		return nil, err
	}
	var count int64
	_ = s.db.WithContext(ctx).Model(&Chunk{}).Where("document_id = ?", doc.ID).Count(&count)
	record := buildDocumentRecord(doc, int(count), true)
	return &record, nil
}

func (s *Service) ListDocuments(ctx context.Context, personaID uint64) ([]DocumentRecord, error) {
	var docs []Document
	if err := s.db.WithContext(ctx).
		Where("persona_id = ?", personaID).
		Order("updated_at DESC").
		Find(&docs).Error; err != nil {
		return nil, err
	}

	counts := make(map[uint64]int)
	if len(docs) > 0 {
		var rows []struct {
			DocumentID uint64
			Count      int
		}
		if err := s.db.WithContext(ctx).
			Model(&Chunk{}).
			Select("document_id, COUNT(*) as count").
			Where("persona_id = ?", personaID).
			Group("document_id").
			Find(&rows).Error; err == nil {
			for _, row := range rows {
				counts[row.DocumentID] = row.Count
			}
		}
	}

	records := make([]DocumentRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, buildDocumentRecord(doc, counts[doc.ID], false))
	}
	return records, nil
}

// Search embeds the query and ranks the persona's chunks. Results below the
// threshold in opts are excluded before ranking.
func (s *Service) Search(ctx context.Context, personaID uint64, query string, opts RankOptions) ([]ChunkMatch, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, nil
	}
	vectors, err := s.embedder.Embed(ctx, []string{trimmed})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	return searchChunks(ctx, s.db, personaID, vectors[0], s.embedder.Model(), opts)
}

// BatchItemOutcome reports one document's fate inside a batch.
type BatchItemOutcome struct {
	Index         int    `json:"index"`
	Title         string `json:"title"`
	DocumentID    uint64 `json:"document_id,omitempty"`
	ChunksCreated int    `json:"chunks_created"`
	Error         string `json:"error,omitempty"`
}

// BatchReport is the aggregate outcome of a batch ingestion. The batch never
// fails as a unit; every document reports individually.
type BatchReport struct {
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Items     []BatchItemOutcome `json:"items"`
}

// IngestBatch runs CreateDocument for each input under a bounded worker
// pool. Documents are independent, so the only shared constraint is the
// provider rate limit, which the embedder enforces at the batch level.
func (s *Service) IngestBatch(ctx context.Context, personaID uint64, inputs []DocumentInput) BatchReport {
	report := BatchReport{Items: make([]BatchItemOutcome, len(inputs))}
	if len(inputs) == 0 {
		return report
	}

	pool, err := ants.NewPool(s.poolSize)
	if err != nil {
		// Degenerate fallback: run sequentially rather than fail the batch.
		for i, input := range inputs {
			report.Items[i] = s.ingestOne(ctx, personaID, i, input)
		}
		return s.tally(report)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i := range inputs {
		i := i
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			report.Items[i] = s.ingestOne(ctx, personaID, i, inputs[i])
		})
		if submitErr != nil {
			report.Items[i] = BatchItemOutcome{Index: i, Title: inputs[i].Title, Error: submitErr.Error()}
			wg.Done()
		}
	}
	wg.Wait()

	return s.tally(report)
}

func (s *Service) ingestOne(ctx context.Context, personaID uint64, index int, input DocumentInput) BatchItemOutcome {
	outcome := BatchItemOutcome{Index: index, Title: input.Title}
	record, err := s.CreateDocument(ctx, personaID, input)
	if err != nil {
		log.Printf("knowledge: batch item %d (%q) failed: %v", index, input.Title, err)
		outcome.Error = err.Error()
		return outcome
	}
	outcome.DocumentID = record.ID
	outcome.Title = record.Title
	outcome.ChunksCreated = record.ChunkCount
	return outcome
}

func (s *Service) tally(report BatchReport) BatchReport {
	for _, item := range report.Items {
		if item.Error == "" {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	return report
}

func buildDocumentRecord(doc Document, chunkCount int, includeContent bool) DocumentRecord {
	record := DocumentRecord{
		ID:          doc.ID,
		PersonaID:   doc.PersonaID,
		Title:       doc.Title,
		ContentType: doc.ContentType,
		Category:    doc.Category,
		Priority:    doc.Priority,
		Tags:        parseTags(doc.Tags),
		Metadata:    ParseMetadata(doc.Metadata),
		SourceKey:   doc.SourceKey,
		Active:      doc.Active,
		ChunkCount:  chunkCount,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
	if includeContent {
		record.Content = doc.Content
	}
	return record
}

func firstLine(text string, maxRunes int) string {
	line := text
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		line = text[:idx]
	}
	line = strings.TrimLeft(strings.TrimSpace(line), "# ")
	runes := []rune(line)
	if len(runes) > maxRunes {
		return string(runes[:maxRunes])
	}
	return line
}

var knownElements = map[string]struct{}{
	"wood": {}, "fire": {}, "earth": {}, "metal": {}, "water": {},
}

// normalizeElement lowercases and validates the element key at the ingestion
// boundary. Unknown values are dropped rather than carried downstream.
func normalizeElement(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if _, ok := knownElements[normalized]; ok {
		return normalized
	}
	return ""
}

