package storage

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound reports a key that was never stored.
var ErrNotFound = errors.New("storage: object not found")

// Object is a stored blob together with its content-type metadata.
type Object struct {
	Data        []byte
	ContentType string
}

// BlobStore is a key to blob mapping. Objects are immutable once written;
// deletion is managed outside this system.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) (Object, error)
}

// KeyGenerator produces collision-resistant storage keys of the form
// <unix-millis>-<random>.<ext>. The clock and the random source are
// injectable so key construction is deterministic under test.
type KeyGenerator struct {
	now    func() time.Time
	suffix func() string
}

// NewKeyGenerator returns a generator backed by the wall clock and a
// UUID-derived random suffix.
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{
		now: time.Now,
		suffix: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		},
	}
}

// NewKeyGeneratorAt overrides the clock and suffix source.
func NewKeyGeneratorAt(now func() time.Time, suffix func() string) *KeyGenerator {
	return &KeyGenerator{now: now, suffix: suffix}
}

// Next assigns a fresh key with an extension inferred from contentType.
func (g *KeyGenerator) Next(contentType string) string {
	millis := g.now().UnixMilli()
	return strconv.FormatInt(millis, 10) + "-" + g.suffix() + "." + ExtensionFor(contentType)
}

// ExtensionFor maps a content type to a filename extension, defaulting to png.
func ExtensionFor(contentType string) string {
	_, sub, ok := strings.Cut(contentType, "/")
	if !ok || sub == "" {
		return "png"
	}
	// image/svg+xml and friends keep only the primary subtype token.
	if base, _, found := strings.Cut(sub, "+"); found {
		sub = base
	}
	return sub
}
