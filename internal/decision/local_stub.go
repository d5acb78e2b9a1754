//go:build !llamacpp

package decision

import (
	"context"
	"fmt"
)

// LocalCapability is a stub when built without the llamacpp tag.
// Build with -tags llamacpp to enable the local embedding backend.
type LocalCapability struct{}

// LocalConfig configures the local decision backend.
type LocalConfig struct {
	LibPath     string
	ModelPath   string
	GPULayers   int
	ContextSize int
}

// NewLocalCapability returns a stub that reports unavailable.
func NewLocalCapability(cfg LocalConfig) *LocalCapability {
	return &LocalCapability{}
}

func (c *LocalCapability) Decide(ctx context.Context, req Request) (Decision, error) {
	return Decision{}, fmt.Errorf("%w: local backend not compiled in (build with -tags llamacpp)", ErrUnavailable)
}

func (c *LocalCapability) Available() bool { return false }

func (c *LocalCapability) Close() error { return nil }
