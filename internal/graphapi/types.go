package graphapi

import (
	"encoding/json"
)

// Status values reported by the status endpoint.
const (
	StatusCompleted = "completed"
	StatusError     = "error"
)

// UploadTarget is where the bytes of a file go, plus the backend id of the file.
type UploadTarget struct {
	FileID    string `json:"file_id"`
	UploadURL string `json:"upload_url"`
}

// Graph is the node/relationship payload of a processed file. The backend
// names the relationship list either "edges" or "relationships".
type Graph struct {
	Nodes         []json.RawMessage `json:"nodes"`
	Edges         []json.RawMessage `json:"edges,omitempty"`
	Relationships []json.RawMessage `json:"relationships,omitempty"`
}

// RelationshipList returns edges when the backend sent them, relationships otherwise.
func (g Graph) RelationshipList() []json.RawMessage {
	if g.Edges != nil {
		return g.Edges
	}
	return g.Relationships
}

// Empty reports whether the graph has neither nodes nor relationships.
func (g Graph) Empty() bool {
	return len(g.Nodes) == 0 && len(g.RelationshipList()) == 0
}

// GraphResult is the outcome of a successfully processed file.
type GraphResult struct {
	FileID            string `json:"file_id"`
	NodeCount         int    `json:"node_count"`
	RelationshipCount int    `json:"relationship_count"`
	Graph             Graph  `json:"graph"`
}

// StatusResponse is the body of the status endpoint.
type StatusResponse struct {
	Status    string `json:"status"`
	GraphData *Graph `json:"graph_data,omitempty"`
	Error     string `json:"error,omitempty"`

	raw string
}

// RawJSON returns the response body as received.
func (s StatusResponse) RawJSON() string { return s.raw }

// Result materialises a GraphResult when the response reports a completed,
// non-empty graph.
func (s StatusResponse) Result(fileID string) (GraphResult, bool) {
	if s.Status != StatusCompleted || s.GraphData == nil || s.GraphData.Empty() {
		return GraphResult{}, false
	}
	return GraphResult{
		FileID:            fileID,
		NodeCount:         len(s.GraphData.Nodes),
		RelationshipCount: len(s.GraphData.RelationshipList()),
		Graph:             *s.GraphData,
	}, true
}

// Health is the body of the health check endpoint.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
