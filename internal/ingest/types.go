package ingest

// Document is raw text extracted from one source prior to chunking.
type Document struct {
	Text     string
	Source   string
	FileType string
}

// ChunkMetadata annotates a chunk with its position within the source
// document and basic size statistics.
type ChunkMetadata struct {
	Source     string `json:"source"`
	Section    string `json:"section,omitempty"`
	ChunkIndex int    `json:"chunk_index"`
	ChunkCount int    `json:"chunk_count"`
	CharLength int    `json:"char_length"`
	TokenCount int    `json:"token_count"`
}

// Chunk is the unit of indexing and retrieval: a bounded span of document
// text plus metadata. Chunks are immutable once created.
type Chunk struct {
	Text     string
	Metadata ChunkMetadata
}
