// Package capture implements the rich-text image ingestion pipeline: it
// watches editing surfaces for inserted images, converges every image to a
// hosted URL or a stable encoded form, and gates form submission on the
// pipeline draining.
package capture

import (
	"context"
	"strings"
	"sync"
)

// Surface is the pipeline's view of one editing surface. The real adapter
// wraps the live widget; tests use an in-memory fake. The rendered content
// and the authoritative field value are allowed to diverge; Persist flushes
// the former into the latter.
type Surface interface {
	// FieldID identifies the underlying form field.
	FieldID() string
	// Nodes enumerates the image nodes currently on the surface. Node
	// identity is stable across calls for the lifetime of the image.
	Nodes() []Node
	// InsertImage appends a new image node with the given source.
	InsertImage(src string) Node
	// FieldValue returns the authoritative value that will be submitted.
	FieldValue() string
	// SetFieldValue overwrites the authoritative value.
	SetFieldValue(v string)
	// Persist serializes the rendered content into the field value.
	Persist()
}

// Node is one image reference on a surface.
type Node interface {
	Src() string
	SetSrc(src string)
	// Loaded reports whether decoded pixel data is available for Snapshot.
	Loaded() bool
	// Snapshot encodes the node's decoded pixels. It fails when pixels are
	// unavailable or access to them is restricted.
	Snapshot() (data []byte, mimeType string, err error)
	// State returns the pipeline flags attached to this node.
	State() *NodeState
}

// BlobResolver dereferences an ephemeral blob source into raw bytes. Blob
// references do not survive serialization, so they must be resolved before
// the surface content is persisted.
type BlobResolver interface {
	Resolve(ctx context.Context, src string) (data []byte, mimeType string, err error)
}

// BlobResolverFunc adapts a function to the BlobResolver interface.
type BlobResolverFunc func(ctx context.Context, src string) ([]byte, string, error)

func (f BlobResolverFunc) Resolve(ctx context.Context, src string) ([]byte, string, error) {
	return f(ctx, src)
}

// Host offloads encoded images to the object store gateway.
type Host interface {
	Upload(ctx context.Context, data []byte, contentType string) (url string, err error)
	ProxyFetch(ctx context.Context, remoteURL string) (url string, err error)
}

// NodeState carries the per-node pipeline flags. At most one of converting
// and uploading is set at a time; uploaded is terminal. The generation
// counter fences stale asynchronous results: a result computed at generation
// g is discarded when the node has moved on.
type NodeState struct {
	mu         sync.Mutex
	captured   bool
	converting bool
	uploading  bool
	uploaded   bool
	generation uint64
}

// MarkCaptured sets the one-shot processed marker. It returns false when the
// node was already captured, making detection idempotent.
func (s *NodeState) MarkCaptured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.captured {
		return false
	}
	s.captured = true
	return true
}

// ResetCaptured clears the marker so a forced rescan can reprocess the node.
func (s *NodeState) ResetCaptured() {
	s.mu.Lock()
	s.captured = false
	s.mu.Unlock()
}

// BeginConverting claims the node for a conversion attempt. It fails when a
// conversion or upload is already running, or the node is terminal. The
// returned generation fences the attempt's result.
func (s *NodeState) BeginConverting() (gen uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.converting || s.uploading || s.uploaded {
		return 0, false
	}
	s.converting = true
	return s.generation, true
}

// EndConverting drops the converting flag without advancing the generation
// (failed attempt; the node stays eligible for retry).
func (s *NodeState) EndConverting() {
	s.mu.Lock()
	s.converting = false
	s.mu.Unlock()
}

// CompleteConversion finishes a conversion attempt started at gen. It reports
// whether the result is still current; a stale result leaves the node
// untouched. On success the generation advances so any slower attempt for the
// same generation is fenced out.
func (s *NodeState) CompleteConversion(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.converting = false
	if s.generation != gen || s.uploaded {
		return false
	}
	s.generation++
	return true
}

// BeginUploading claims the node for an upload/proxy attempt.
func (s *NodeState) BeginUploading() (gen uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.converting || s.uploading || s.uploaded {
		return 0, false
	}
	s.uploading = true
	return s.generation, true
}

// FinishUploading settles an upload attempt started at gen. When the upload
// succeeded and the result is still current, the node becomes terminal.
func (s *NodeState) FinishUploading(gen uint64, succeeded bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploading = false
	if !succeeded || s.generation != gen || s.uploaded {
		return false
	}
	s.generation++
	s.uploaded = true
	return true
}

// MarkUploaded flags a node whose source is already hosted.
func (s *NodeState) MarkUploaded() {
	s.mu.Lock()
	s.uploaded = true
	s.mu.Unlock()
}

// Converting reports an in-flight conversion.
func (s *NodeState) Converting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.converting
}

// Uploading reports an in-flight upload.
func (s *NodeState) Uploading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploading
}

// Uploaded reports the terminal hosted state.
func (s *NodeState) Uploaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploaded
}

// Captured reports the one-shot processed marker.
func (s *NodeState) Captured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captured
}

// sourceKind classifies an image source reference.
type sourceKind int

const (
	sourceEmpty sourceKind = iota
	sourceData
	sourceBlob
	sourceRemote
	sourceHosted
	sourceOther
)

// classifySource inspects a source reference. Sources under hostedPrefix are
// already on the gateway and terminal.
func classifySource(src, hostedPrefix string) sourceKind {
	src = strings.TrimSpace(src)
	lower := strings.ToLower(src)
	switch {
	case src == "":
		return sourceEmpty
	case hostedPrefix != "" && strings.HasPrefix(src, hostedPrefix):
		return sourceHosted
	case strings.HasPrefix(lower, "data:image"):
		return sourceData
	case strings.HasPrefix(lower, "blob:"):
		return sourceBlob
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return sourceRemote
	default:
		return sourceOther
	}
}
