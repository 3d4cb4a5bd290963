package mldetect

import (
	"context"
)

// TransformerBackend defines a pluggable backend for transformer inference.
// Implementations may use ONNX Runtime or other engines; the default hash
// embedding needs no backend at all.
type TransformerBackend interface {
	// EmbedBatch returns one embedding per input text.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// IsReady returns whether the backend is initialized and ready.
	IsReady() bool
	// Close releases any native resources.
	Close() error
}

// NewTransformerBackend creates a backend if supported by the current build.
// The default (no build tags) returns nil to avoid CGO dependencies.
// Implementations are provided in build-tagged files, e.g. backend_onnx.go.
