package knowledge

import (
	"context"

	"gorm.io/gorm"
)

// ChunkMatch is one retrieval hit with its ranking annotations. Matches are
// ephemeral: they are assembled into the context block and never persisted.
type ChunkMatch struct {
	Chunk          Chunk
	DocumentTitle  string
	Similarity     float64
	Score          float64
	PrimaryMatch   bool
	SecondaryMatch bool
}

// searchChunks runs a brute-force similarity scan over the persona's active
// chunks. Correctness does not depend on a vector index; the pgvector column
// is the persisted representation and an index is an optimization only.
// Vectors from a different embedding model version are never compared.
func searchChunks(ctx context.Context, db *gorm.DB, personaID uint64, queryVector []float32, model string, opts RankOptions) ([]ChunkMatch, error) {
	var chunks []Chunk
	if err := db.WithContext(ctx).
		Joins("JOIN persona_knowledge_documents ON persona_knowledge_documents.id = persona_knowledge_chunks.document_id").
		Where("persona_knowledge_chunks.persona_id = ?", personaID).
		Where("persona_knowledge_chunks.embedding_model = ?", model).
		Where("persona_knowledge_documents.active = ?", true).
		Find(&chunks).Error; err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	byID := make(map[uint64]*Chunk, len(chunks))
	candidates := make([]Candidate, 0, len(chunks))
	for i := range chunks {
		chunk := &chunks[i]
		byID[chunk.ID] = chunk
		candidates = append(candidates, Candidate{
			ID:         chunk.ID,
			Element:    ParseMetadata(chunk.Metadata).Element,
			Similarity: CosineSimilarity(queryVector, chunk.Embedding.Slice()),
		})
	}

	ranked := Rank(candidates, opts)
	if len(ranked) == 0 {
		return nil, nil
	}

	titles, err := documentTitles(ctx, db, ranked, byID)
	if err != nil {
		return nil, err
	}

	matches := make([]ChunkMatch, 0, len(ranked))
	for _, item := range ranked {
		chunk := byID[item.ID]
		matches = append(matches, ChunkMatch{
			Chunk:          *chunk,
			DocumentTitle:  titles[chunk.DocumentID],
			Similarity:     item.Similarity,
			Score:          item.Score,
			PrimaryMatch:   item.PrimaryMatch,
			SecondaryMatch: item.SecondaryMatch,
		})
	}
	return matches, nil
}

func documentTitles(ctx context.Context, db *gorm.DB, ranked []Ranked, byID map[uint64]*Chunk) (map[uint64]string, error) {
	docIDs := make([]uint64, 0, len(ranked))
	seen := make(map[uint64]struct{}, len(ranked))
	for _, item := range ranked {
		docID := byID[item.ID].DocumentID
		if _, ok := seen[docID]; ok {
			continue
		}
		seen[docID] = struct{}{}
		docIDs = append(docIDs, docID)
	}

	var rows []struct {
		ID    uint64
		Title string
	}
	if err := db.WithContext(ctx).
		Model(&Document{}).
		Select("id, title").
		Where("id IN ?", docIDs).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	titles := make(map[uint64]string, len(rows))
	for _, row := range rows {
		titles[row.ID] = row.Title
	}
	return titles, nil
}
