package models

import (
	"time"
)

// Message represents an individual entry within a conversation transcript. A user message is fully
// formed at creation, while a model message starts as an empty placeholder and is filled in place by
// the pipeline that owns it.
type Message struct {
	ID        string
	Role      Role
	Text      string
	Timestamp time.Time

	// IsStreaming is true while the entry is still being produced.
	IsStreaming bool
	// IsGeneratingImage is true for image-mode placeholders until an image or an error arrives.
	IsGeneratingImage bool

	// Image would be filled only by the image pipeline, as a data URI with embedded MIME type.
	Image string
	// GroundingMetadata would be filled only by the text pipeline. Later chunks replace earlier values.
	GroundingMetadata *GroundingMetadata
}

// GroundingMetadata holds the search queries and sources a model used to ground its answer.
type GroundingMetadata struct {
	SearchQueries []string          `json:"searchQueries,omitempty"`
	Sources       []GroundingSource `json:"sources,omitempty"`
}

// GroundingSource is a single web source cited by a grounded answer.
type GroundingSource struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Chunk is one element of an incremental text response. Either field may be empty.
type Chunk struct {
	Text              string
	GroundingMetadata *GroundingMetadata
}

// HistoryEntry is a role/text pair sent to a text backend as conversational context.
type HistoryEntry struct {
	Role Role
	Text string
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a user message.
	RoleUser Role = "user"
	// RoleModel represents a message produced by a model.
	RoleModel Role = "model"
)

// IsEmpty reports whether the metadata carries nothing worth displaying.
func (g *GroundingMetadata) IsEmpty() bool {
	return g == nil || (len(g.SearchQueries) == 0 && len(g.Sources) == 0)
}
