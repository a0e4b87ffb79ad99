package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/CTAG07/charkov/pkg/markov"
)

var (
	errModelNotFound = errors.New("model not found")
	errModelExists   = errors.New("model already exists")
)

// ModelInfo holds the metadata for a hosted model.
type ModelInfo struct {
	Name         string    `json:"name"`
	WindowLength int       `json:"window_length"`
	Seed         *uint64   `json:"seed,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// modelEntry pairs a model with the lock that serializes its use; a
// markov.Model is not safe for concurrent use.
type modelEntry struct {
	mu    sync.Mutex
	info  ModelInfo
	model *markov.Model
}

// ModelRegistry holds the named in-memory models served by the API.
type ModelRegistry struct {
	mu     sync.RWMutex
	models map[string]*modelEntry
	logger *slog.Logger
}

func NewModelRegistry(logger *slog.Logger) *ModelRegistry {
	return &ModelRegistry{
		models: make(map[string]*modelEntry),
		logger: logger,
	}
}

// Create adds a new, untrained model. A nil seed gives nondeterministic output.
func (r *ModelRegistry) Create(name string, windowLength int, seed *uint64) (ModelInfo, error) {
	opts := []markov.Option{markov.WithLogger(r.logger.With(slog.String("model_name", name)))}
	if seed != nil {
		opts = append(opts, markov.WithSeed(*seed))
	}
	m, err := markov.New(windowLength, opts...)
	if err != nil {
		return ModelInfo{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[name]; ok {
		return ModelInfo{}, fmt.Errorf("%w: %q", errModelExists, name)
	}
	info := ModelInfo{
		Name:         name,
		WindowLength: windowLength,
		Seed:         seed,
		CreatedAt:    time.Now().UTC(),
	}
	r.models[name] = &modelEntry{info: info, model: m}
	return info, nil
}

// Info returns the metadata of the named model.
func (r *ModelRegistry) Info(name string) (ModelInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.models[name]
	if !ok {
		return ModelInfo{}, fmt.Errorf("%w: %q", errModelNotFound, name)
	}
	return e.info, nil
}

// List returns the metadata of every model, sorted by name.
func (r *ModelRegistry) List() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]ModelInfo, 0, len(r.models))
	for _, e := range r.models {
		infos = append(infos, e.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Remove deletes the named model.
func (r *ModelRegistry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[name]; !ok {
		return fmt.Errorf("%w: %q", errModelNotFound, name)
	}
	delete(r.models, name)
	return nil
}

// With runs fn with exclusive access to the named model.
func (r *ModelRegistry) With(name string, fn func(*markov.Model) error) error {
	r.mu.RLock()
	e, ok := r.models[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", errModelNotFound, name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.model)
}
