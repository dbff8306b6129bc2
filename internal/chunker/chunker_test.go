package chunker

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/maneesh/studyfolders/internal/models"
)

func collect(t *testing.T, c *Chunker, input string) ([]*models.ChunkData, int64) {
	t.Helper()
	var chunks []*models.ChunkData
	total, err := c.Split(strings.NewReader(input), func(cd *models.ChunkData) error {
		chunks = append(chunks, cd)
		return nil
	})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	return chunks, total
}

func TestSplitMarksLastChunk(t *testing.T) {
	chunks, total := collect(t, NewChunker(4), "abcdefghij")
	if total != 10 {
		t.Errorf("total = %d, want 10", total)
	}
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	var joined bytes.Buffer
	for i, cd := range chunks {
		if cd.OrderIndex != i {
			t.Errorf("chunk %d has index %d", i, cd.OrderIndex)
		}
		if cd.Last != (i == len(chunks)-1) {
			t.Errorf("chunk %d last = %v", i, cd.Last)
		}
		if !VerifyChunkHash(cd.Data, cd.Hash) {
			t.Errorf("chunk %d hash mismatch", i)
		}
		joined.Write(cd.Data)
	}
	if joined.String() != "abcdefghij" {
		t.Errorf("reassembled = %q", joined.String())
	}
}

func TestSplitExactMultiple(t *testing.T) {
	chunks, _ := collect(t, NewChunker(5), "abcdefghij")
	if len(chunks) != 2 || !chunks[1].Last || chunks[1].Size != 5 {
		t.Fatalf("chunks = %+v", chunks)
	}
}

func TestSplitEmptyStream(t *testing.T) {
	chunks, total := collect(t, NewChunker(5), "")
	if total != 0 || len(chunks) != 1 || !chunks[0].Last || chunks[0].Size != 0 {
		t.Fatalf("chunks = %+v, total = %d", chunks, total)
	}
}

func TestSplitStopsOnCallbackError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := NewChunker(2).Split(strings.NewReader("abcdef"), func(*models.ChunkData) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}

func TestNewChunkerDefaultSize(t *testing.T) {
	if NewChunker(0).ChunkSize() != DefaultChunkSize {
		t.Error("expected default chunk size")
	}
}
