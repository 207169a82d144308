// Package pdb segments coordinate-record (PDB) files into contiguous,
// chain-bounded chunks.
//
// Only ATOM and HETATM records participate. Every other line is dropped
// and does not count towards the chunk size. A chunk never spans two
// chains and never holds more than the configured number of records.
package pdb

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DefaultChunkSize is the maximum number of records per chunk.
const DefaultChunkSize = 1000

// Fixed column layout of a coordinate record (0-based byte offsets).
const (
	chainColumn      = 21
	residueStart     = 22
	residueEnd       = 26
	unsetResidue     = -1
	recordAtom       = "ATOM"
	recordHeteroAtom = "HETATM"
)

// ChunkInfo is one contiguous segment of a single chain.
type ChunkInfo struct {
	// ChainID is the chain identifier of every record in the chunk.
	ChainID string `json:"chain_id" yaml:"chain_id"`

	// StartResidue is the residue number of the first record.
	StartResidue int `json:"start_residue" yaml:"start_residue"`

	// EndResidue is the residue number of the last record.
	EndResidue int `json:"end_residue" yaml:"end_residue"`

	// Content holds the records joined by newlines.
	Content string `json:"content" yaml:"content"`
}

// Lines returns the number of records in the chunk.
func (c ChunkInfo) Lines() int {
	if c.Content == "" {
		return 0
	}
	return strings.Count(c.Content, "\n") + 1
}

// Chunks is an ordered chunk sequence.
type Chunks []ChunkInfo

// Encode joins the chunk contents back into record text.
func (cs Chunks) Encode() ([]byte, error) {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = c.Content
	}
	return []byte(strings.Join(parts, "\n")), nil
}

// Chains returns the distinct chain identifiers in order of appearance.
func (cs Chunks) Chains() []string {
	var chains []string
	seen := make(map[string]bool)
	for _, c := range cs {
		if !seen[c.ChainID] {
			seen[c.ChainID] = true
			chains = append(chains, c.ChainID)
		}
	}
	return chains
}

// IsRecord reports whether line is an ATOM or HETATM record.
func IsRecord(line string) bool {
	return strings.HasPrefix(line, recordAtom) || strings.HasPrefix(line, recordHeteroAtom)
}

// ParseRecord extracts the chain identifier and residue number of a record.
// A line too short to hold a chain yields "", and a missing or non-numeric
// residue number yields 0.
func ParseRecord(line string) (chainID string, residue int) {
	if len(line) > chainColumn {
		chainID = strings.TrimSpace(line[chainColumn : chainColumn+1])
	}
	if len(line) > residueEnd {
		if n, err := strconv.Atoi(strings.TrimSpace(line[residueStart:residueEnd])); err == nil {
			residue = n
		}
	}
	return chainID, residue
}

// Chunker accumulates records and emits chunks as chain or size limits are hit.
type Chunker struct {
	size int

	lines        []string
	chainID      string
	startResidue int
	residue      int

	chunks Chunks
}

// NewChunker creates a chunker. A non-positive size uses DefaultChunkSize.
func NewChunker(size int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &Chunker{
		size:         size,
		startResidue: unsetResidue,
		residue:      unsetResidue,
	}
}

// Add feeds one line. Non-record lines are ignored.
func (c *Chunker) Add(line string) {
	line = strings.TrimSuffix(line, "\r")
	if !IsRecord(line) {
		return
	}

	chainID, residue := ParseRecord(line)

	if len(c.lines) >= c.size || (c.chainID != "" && chainID != c.chainID) {
		c.flush()
		c.startResidue = residue
	}
	if c.startResidue == unsetResidue {
		c.startResidue = residue
	}

	c.chainID = chainID
	c.residue = residue
	c.lines = append(c.lines, line)
}

func (c *Chunker) flush() {
	if len(c.lines) > 0 {
		c.chunks = append(c.chunks, ChunkInfo{
			ChainID:      c.chainID,
			StartResidue: c.startResidue,
			EndResidue:   c.residue,
			Content:      strings.Join(c.lines, "\n"),
		})
	}
	c.lines = nil
}

// Finish emits the trailing chunk and returns every chunk in order.
// The chunker must not be used afterwards.
func (c *Chunker) Finish() Chunks {
	c.flush()
	if c.chunks == nil {
		return Chunks{}
	}
	return c.chunks
}

// Chunk segments content into chunks of at most size records.
func Chunk(content string, size int) Chunks {
	c := NewChunker(size)
	for _, line := range strings.Split(content, "\n") {
		c.Add(line)
	}
	return c.Finish()
}

// ChunkReader segments a stream without loading it into memory first.
func ChunkReader(r io.Reader, size int) (Chunks, error) {
	c := NewChunker(size)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		c.Add(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return c.Finish(), nil
}
