//go:build llamacpp

package decision

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/hybridgroup/yzma/pkg/llama"
)

// Package-level library initialization. llama.Load() and llama.Init() are
// process-global operations that must only happen once.
var (
	libOnce    sync.Once
	libLoadErr error
)

func loadLib(libPath string) error {
	libOnce.Do(func() {
		if err := llama.Load(libPath); err != nil {
			libLoadErr = fmt.Errorf("loading yzma shared library from %q: %w", libPath, err)
			return
		}
		llama.LogSet(llama.LogSilent())
		llama.Init()
	})
	return libLoadErr
}

// LocalCapability implements Capability using a local GGUF model via
// hybridgroup/yzma (purego). It selects the candidate action whose
// embedding is closest to the embedded decision context, so no generation
// or response parsing is involved and no external API is needed.
// Thread-safe: all model access is serialized via mutex. Contexts are
// created per embed call and freed immediately.
type LocalCapability struct {
	libPath     string
	modelPath   string
	gpuLayers   int
	contextSize int

	mu      sync.Mutex
	model   llama.Model
	vocab   llama.Vocab
	nEmbd   int32
	loaded  bool
	loadErr error
	once    sync.Once

	// actionVecs caches candidate-action embeddings per action name.
	actionVecs map[string][]float32
}

// LocalConfig configures the local decision backend.
type LocalConfig struct {
	// LibPath is the directory containing yzma shared libraries (.so/.dylib).
	// Falls back to YZMA_LIB env var at runtime.
	LibPath string

	// ModelPath is the path to the GGUF embedding model file.
	ModelPath string

	// GPULayers is the number of layers to offload to GPU (0 = CPU only).
	GPULayers int

	// ContextSize is the context window size in tokens.
	ContextSize int
}

// NewLocalCapability creates a LocalCapability. The model is not loaded
// until first use.
func NewLocalCapability(cfg LocalConfig) *LocalCapability {
	ctxSize := cfg.ContextSize
	if ctxSize <= 0 {
		ctxSize = 512
	}
	libPath := cfg.LibPath
	if libPath == "" {
		libPath = os.Getenv("YZMA_LIB")
	}
	return &LocalCapability{
		libPath:     libPath,
		modelPath:   cfg.ModelPath,
		gpuLayers:   cfg.GPULayers,
		contextSize: ctxSize,
		actionVecs:  make(map[string][]float32),
	}
}

func (c *LocalCapability) resolveLibPath() string {
	if c.libPath != "" {
		return c.libPath
	}
	return os.Getenv("YZMA_LIB")
}

// loadModel lazy-loads the embedding model on first use.
func (c *LocalCapability) loadModel() error {
	c.once.Do(func() {
		if c.modelPath == "" {
			c.loadErr = fmt.Errorf("no model path configured")
			return
		}

		libPath := c.resolveLibPath()
		if libPath == "" {
			c.loadErr = fmt.Errorf("no library path configured (set decision.local_lib_path or YZMA_LIB)")
			return
		}

		if err := loadLib(libPath); err != nil {
			c.loadErr = err
			return
		}

		modelParams := llama.ModelDefaultParams()
		gpuLayers := c.gpuLayers
		if gpuLayers > math.MaxInt32 {
			gpuLayers = math.MaxInt32
		}
		modelParams.NGpuLayers = int32(gpuLayers)

		model, err := llama.ModelLoadFromFile(c.modelPath, modelParams)
		if err != nil {
			c.loadErr = fmt.Errorf("loading model %s: %w", c.modelPath, err)
			return
		}
		if model == 0 {
			c.loadErr = fmt.Errorf("loading model %s: returned null handle", c.modelPath)
			return
		}

		c.model = model
		c.vocab = llama.ModelGetVocab(model)
		c.nEmbd = int32(llama.ModelNEmbd(model))
		c.loaded = true
	})
	return c.loadErr
}

// Decide embeds the decision context and each candidate action for the
// agent's kind, then returns the candidate with the highest cosine
// similarity to the context.
func (c *LocalCapability) Decide(ctx context.Context, req Request) (Decision, error) {
	candidates := candidateActions[req.Agent.Kind]
	if len(candidates) == 0 {
		return NoOp(), nil
	}

	ctxVec, err := c.embed(ctx, DecisionPrompt(req))
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	best := candidates[0]
	bestScore := math.Inf(-1)
	for _, cand := range candidates {
		vec, err := c.actionEmbedding(ctx, cand)
		if err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if score := cosineSimilarity(ctxVec, vec); score > bestScore {
			bestScore = score
			best = cand
		}
	}
	best.Reason = fmt.Sprintf("embedding similarity %.3f", bestScore)
	return best, nil
}

// actionEmbedding returns the cached embedding for a candidate action,
// computing it on first use.
func (c *LocalCapability) actionEmbedding(ctx context.Context, cand Decision) ([]float32, error) {
	c.mu.Lock()
	vec, ok := c.actionVecs[cand.Action]
	c.mu.Unlock()
	if ok {
		return vec, nil
	}

	text := fmt.Sprintf("%s targeting %s: %s", cand.Action, cand.Target, cand.Reason)
	vec, err := c.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.actionVecs[cand.Action] = vec
	c.mu.Unlock()
	return vec, nil
}

// embed returns an L2-normalized embedding for the given text.
// Creates a fresh llama context per call and frees it immediately.
func (c *LocalCapability) embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.loadModel(); err != nil {
		return nil, fmt.Errorf("local embed: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	tokens := llama.Tokenize(c.vocab, text, true, true)

	ctxParams := llama.ContextDefaultParams()
	nTokens := len(tokens) + 64
	if nTokens > math.MaxUint32 {
		nTokens = math.MaxUint32
	}
	ctxParams.NCtx = uint32(nTokens)

	lctx, err := llama.InitFromModel(c.model, ctxParams)
	if err != nil {
		return nil, fmt.Errorf("creating embedding context: %w", err)
	}
	defer func() { _ = llama.Free(lctx) }()

	llama.SetEmbeddings(lctx, true)

	batch := llama.BatchGetOne(tokens)
	if _, err := llama.Decode(lctx, batch); err != nil {
		return nil, fmt.Errorf("decoding tokens: %w", err)
	}

	rawVec, err := llama.GetEmbeddingsSeq(lctx, 0, c.nEmbd)
	if err != nil {
		return nil, fmt.Errorf("getting embeddings: %w", err)
	}

	// Copy + L2 normalize (rawVec points to memory owned by lctx)
	vec := make([]float32, len(rawVec))
	copy(vec, rawVec)
	normalize(vec)

	return vec, nil
}

// Available returns true if both the library directory and model file exist
// on disk. This is a cheap check that does not load the model or library.
func (c *LocalCapability) Available() bool {
	libPath := c.resolveLibPath()
	if libPath == "" || c.modelPath == "" {
		return false
	}
	if info, err := os.Stat(libPath); err != nil || !info.IsDir() {
		return false
	}
	_, err := os.Stat(c.modelPath)
	return err == nil
}

// Close releases the model resources. Safe to call multiple times.
// Does NOT call llama.Close(), which is process-global.
func (c *LocalCapability) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		_ = llama.ModelFree(c.model)
		c.model = 0
		c.vocab = 0
		c.nEmbd = 0
		c.loaded = false
	}
	return nil
}
