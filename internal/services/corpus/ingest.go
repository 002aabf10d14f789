package corpus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/attestor/internal/interfaces"
	"github.com/ternarybob/attestor/internal/models"
)

const (
	// chunkSize is the target chunk length in characters. Chunks break
	// on paragraph boundaries where possible.
	chunkSize = 1200

	// pageSize approximates one printed page for page-number provenance
	// in plain-text sources.
	pageSize = 3000
)

// Ingestor loads plain-text and markdown documents into a corpus
// collection, chunked with provenance.
type Ingestor struct {
	writer interfaces.CorpusWriter
	logger arbor.ILogger
}

func NewIngestor(writer interfaces.CorpusWriter, logger arbor.ILogger) *Ingestor {
	return &Ingestor{
		writer: writer,
		logger: logger,
	}
}

// IngestDir loads every .txt and .md file under dir into collection.
// The doc id is the file name without extension. Returns the number of
// chunks written.
func (i *Ingestor) IngestDir(ctx context.Context, collection, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading ingest directory: %w", err)
	}

	total := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".txt" && ext != ".md" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return total, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		docID := strings.TrimSuffix(entry.Name(), ext)
		chunks := ChunkDocument(docID, collection, string(data))
		if len(chunks) == 0 {
			continue
		}
		if err := i.writer.AddChunks(ctx, collection, chunks); err != nil {
			return total, fmt.Errorf("indexing %s: %w", entry.Name(), err)
		}
		total += len(chunks)

		i.logger.Debug().
			Str("doc_id", docID).
			Str("collection", collection).
			Int("chunks", len(chunks)).
			Msg("Document ingested")
	}

	i.logger.Info().
		Str("collection", collection).
		Str("dir", dir).
		Int("chunks", total).
		Msg("Ingest complete")
	return total, nil
}

// ChunkDocument splits text into bounded chunks on paragraph
// boundaries, assigning approximate page numbers by character offset.
func ChunkDocument(docID, collection, text string) []models.Chunk {
	paragraphs := strings.Split(text, "\n\n")

	var chunks []models.Chunk
	var current strings.Builder
	offset := 0
	chunkStart := 0

	flush := func() {
		body := strings.TrimSpace(current.String())
		if body == "" {
			current.Reset()
			return
		}
		chunks = append(chunks, models.Chunk{
			DocID:            docID,
			Page:             chunkStart/pageSize + 1,
			Text:             body,
			SourceCollection: collection,
		})
		current.Reset()
	}

	for _, para := range paragraphs {
		trimmed := strings.TrimSpace(para)
		if trimmed == "" {
			offset += len(para) + 2
			continue
		}

		// An oversize paragraph becomes its own chunk run, split hard.
		for len(trimmed) > chunkSize {
			flush()
			chunkStart = offset
			current.WriteString(trimmed[:chunkSize])
			flush()
			trimmed = trimmed[chunkSize:]
			offset += chunkSize
		}

		if current.Len()+len(trimmed) > chunkSize {
			flush()
			chunkStart = offset
		}
		if current.Len() == 0 {
			chunkStart = offset
		} else {
			current.WriteString("\n\n")
		}
		current.WriteString(trimmed)
		offset += len(para) + 2
	}
	flush()
	return chunks
}
