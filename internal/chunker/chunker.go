package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/maneesh/studyfolders/internal/models"
)

// DefaultChunkSize is used when a location does not configure chunk_size_mb.
const DefaultChunkSize = 32 << 20

// Chunker splits upload streams into fixed-size chunks
type Chunker struct {
	chunkSize int64
}

// NewChunker creates a new chunker with the specified chunk size
func NewChunker(chunkSize int64) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Chunker{chunkSize: chunkSize}
}

// ChunkSize returns the configured chunk size in bytes.
func (c *Chunker) ChunkSize() int64 {
	return c.chunkSize
}

// Split reads reader to the end and hands each chunk to fn in order. Only one
// chunk beyond the one being handled is buffered. The final chunk has Last set;
// an empty stream produces a single empty Last chunk.
func (c *Chunker) Split(reader io.Reader, fn func(*models.ChunkData) error) (int64, error) {
	var total int64
	cur, err := c.read(reader, 0)
	if err != nil {
		return 0, err
	}
	for {
		next, err := c.read(reader, cur.OrderIndex+1)
		if err != nil {
			return total, err
		}
		if next.Size == 0 {
			cur.Last = true
		}
		if err := fn(cur); err != nil {
			return total, fmt.Errorf("chunk %d: %w", cur.OrderIndex, err)
		}
		total += cur.Size
		if cur.Last {
			return total, nil
		}
		cur = next
	}
}

func (c *Chunker) read(reader io.Reader, index int) (*models.ChunkData, error) {
	buffer := make([]byte, c.chunkSize)
	n, err := io.ReadFull(reader, buffer)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("error reading chunk: %w", err)
	}
	data := buffer[:n]
	return &models.ChunkData{
		Data:       data,
		OrderIndex: index,
		Hash:       ComputeHash(data),
		Size:       int64(n),
	}, nil
}

// ComputeHash computes SHA256 hash of data
func ComputeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyChunkHash verifies that chunk data matches the expected hash
func VerifyChunkHash(data []byte, expectedHash string) bool {
	return ComputeHash(data) == expectedHash
}
