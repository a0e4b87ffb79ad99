package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/CTAG07/charkov/pkg/corpus"
	"github.com/CTAG07/charkov/pkg/markov"
)

// ModelsAPI holds the dependencies for the model API handlers.
type ModelsAPI struct {
	registry *ModelRegistry
	library  *corpus.Library
	stats    *StatsAPI
	limits   *GenerationConfig
	logger   *slog.Logger
}

// NewModelsAPI creates a new instance of the ModelsAPI.
func NewModelsAPI(registry *ModelRegistry, library *corpus.Library, stats *StatsAPI, limits *GenerationConfig, logger *slog.Logger) *ModelsAPI {
	return &ModelsAPI{
		registry: registry,
		library:  library,
		stats:    stats,
		limits:   limits,
		logger:   logger,
	}
}

// RegisterRoutes sets up the routing for all /api/models endpoints.
func (m *ModelsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/models", m.handleListAndCreateModels)
	mux.HandleFunc("/api/models/", m.handleModelByName)
}

type CreateModelRequest struct {
	Name         string  `json:"name"`
	WindowLength int     `json:"window_length"`
	Seed         *uint64 `json:"seed,omitempty"`
}

type GenerateRequest struct {
	Seed        string   `json:"seed"`
	Length      *int     `json:"length,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
}

type GenerateResponse struct {
	Text      string `json:"text"`
	Generated int    `json:"generated"`
	DeadEnd   bool   `json:"dead_end"`
}

type PruneRequest struct {
	MinFreq  int  `json:"min_freq"`
	Alphabet bool `json:"alphabet"`
}

// ModelSummary is a model's metadata together with its current statistics.
type ModelSummary struct {
	ModelInfo
	Stats markov.ModelStats `json:"stats"`
}

// handleListAndCreateModels handles GET for listing and POST for creating models.
func (m *ModelsAPI) handleListAndCreateModels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, scopeModelsRead) {
			return
		}
		respondWithJSON(w, http.StatusOK, m.registry.List())

	case http.MethodPost:
		if !requireScope(w, r, scopeModelsWrite) {
			return
		}
		var req CreateModelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
		if req.Name == "" || strings.Contains(req.Name, "/") {
			respondWithError(w, http.StatusBadRequest, "A model name without '/' is required")
			return
		}

		info, err := m.registry.Create(req.Name, req.WindowLength, req.Seed)
		switch {
		case errors.Is(err, markov.ErrInvalidWindowLength):
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, errModelExists):
			respondWithError(w, http.StatusConflict, err.Error())
			return
		case err != nil:
			m.logger.Error("Failed to create model", "name", req.Name, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create model: %v", err))
			return
		}
		m.logger.Info("Model created", "name", info.Name, "window_length", info.WindowLength)
		respondWithJSON(w, http.StatusCreated, info)

	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleModelByName routes actions for a specific model, e.g. train, generate, dump, delete.
func (m *ModelsAPI) handleModelByName(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/models/")
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	modelName := parts[0]

	if modelName == "" {
		respondWithError(w, http.StatusBadRequest, "Model name not specified")
		return
	}

	info, err := m.registry.Info(modelName)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Model not found")
		return
	}

	if len(parts) == 1 { // Path is just /api/models/{name}
		switch r.Method {
		case http.MethodGet:
			if !requireScope(w, r, scopeModelsRead) {
				return
			}
			summary := ModelSummary{ModelInfo: info}
			_ = m.registry.With(modelName, func(model *markov.Model) error {
				summary.Stats = model.Stats()
				return nil
			})
			respondWithJSON(w, http.StatusOK, summary)
		case http.MethodDelete:
			if !requireScope(w, r, scopeModelsWrite) {
				return
			}
			if err = m.registry.Remove(modelName); err != nil {
				respondWithError(w, http.StatusNotFound, "Model not found")
				return
			}
			m.logger.Info("Model removed", "name", modelName)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Header().Set("Allow", "GET, DELETE")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	switch action := parts[1]; action {
	case "train":
		if !allowMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeModelsWrite) {
			return
		}
		m.handleTrain(w, r, modelName)

	case "generate":
		if !allowMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeModelsRead) {
			return
		}
		m.handleGenerate(w, r, modelName)

	case "dump":
		if !allowMethod(w, r, http.MethodGet) || !requireScope(w, r, scopeModelsRead) {
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		err = m.registry.With(modelName, func(model *markov.Model) error {
			_, err := model.WriteTo(w)
			return err
		})
		if err != nil {
			m.logger.Error("Failed to write model listing", "name", modelName, "error", err)
		}

	case "stats":
		if !allowMethod(w, r, http.MethodGet) || !requireScope(w, r, scopeModelsRead) {
			return
		}
		var stats markov.ModelStats
		_ = m.registry.With(modelName, func(model *markov.Model) error {
			stats = model.Stats()
			return nil
		})
		respondWithJSON(w, http.StatusOK, stats)

	case "prune":
		if !allowMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeModelsWrite) {
			return
		}
		var req PruneRequest
		if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
		var removed int
		_ = m.registry.With(modelName, func(model *markov.Model) error {
			if req.Alphabet {
				removed = model.PruneAlphabet(req.MinFreq)
			} else {
				removed = model.Prune(req.MinFreq)
			}
			return nil
		})
		respondWithJSON(w, http.StatusOK, map[string]int{"removed": removed})

	default:
		respondWithError(w, http.StatusNotFound, "Action not found")
	}
}

// handleTrain feeds the request body, or the stored corpus named by the
// corpus query parameter, into the model. The corpus is read in full before
// training starts, so a rejected request leaves the model unchanged.
func (m *ModelsAPI) handleTrain(w http.ResponseWriter, r *http.Request, modelName string) {
	var src io.Reader
	source := "request body"
	if name := r.URL.Query().Get("corpus"); name != "" {
		reader, err := m.library.Open(r.Context(), name)
		if err != nil {
			if errors.Is(err, corpus.ErrNotFound) {
				respondWithError(w, http.StatusNotFound, "Corpus not found")
				return
			}
			m.logger.Error("Failed to open corpus", "corpus", name, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to open corpus: %v", err))
			return
		}
		src = reader
		source = "corpus " + name
	} else {
		src = http.MaxBytesReader(w, r.Body, m.limits.MaxTrainBytes)
	}

	data, err := io.ReadAll(src)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			respondWithError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Corpus exceeds %d bytes", maxBytesErr.Limit))
			return
		}
		m.logger.Error("Failed to read corpus", "name", modelName, "source", source, "error", err)
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read corpus: %v", err))
		return
	}

	// The corpus is already in memory; a client disconnect must not cut
	// training short and leave half of it in the model.
	ctx := context.WithoutCancel(r.Context())
	var stats markov.ModelStats
	err = m.registry.With(modelName, func(model *markov.Model) error {
		if err := model.Train(ctx, bytes.NewReader(data)); err != nil {
			return err
		}
		stats = model.Stats()
		return nil
	})
	if err != nil {
		m.logger.Error("Failed to train model", "name", modelName, "source", source, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Training failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

// handleGenerate extends a seed. With ?stream=true the generated characters
// are flushed to the client as plain text while they are produced.
func (m *ModelsAPI) handleGenerate(w http.ResponseWriter, r *http.Request, modelName string) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	length := m.limits.DefaultLength
	if req.Length != nil {
		length = *req.Length
	}
	if length < 0 || length > m.limits.MaxLength {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("length must be between 0 and %d", m.limits.MaxLength))
		return
	}
	if req.TopK < 0 {
		respondWithError(w, http.StatusBadRequest, "top_k must not be negative")
		return
	}

	info, err := m.registry.Info(modelName)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Model not found")
		return
	}
	if utf8.RuneCountInString(req.Seed) < info.WindowLength {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("%v: need at least %d characters", markov.ErrSeedTooShort, info.WindowLength))
		return
	}

	opts := []markov.GenerateOption{markov.WithTopK(req.TopK)}
	if req.Temperature != nil {
		opts = append(opts, markov.WithTemperature(*req.Temperature))
	}

	var generated int
	if r.URL.Query().Get("stream") == "true" {
		var ok bool
		if generated, ok = m.streamGenerate(w, r, modelName, req.Seed, length, opts); !ok {
			return
		}
	} else {
		var text string
		_ = m.registry.With(modelName, func(model *markov.Model) error {
			text = model.Generate(req.Seed, length, opts...)
			return nil
		})
		generated = utf8.RuneCountInString(text) - utf8.RuneCountInString(req.Seed)
		respondWithJSON(w, http.StatusOK, GenerateResponse{
			Text:      text,
			Generated: generated,
			DeadEnd:   generated < length,
		})
	}

	rec := GenerationRecord{
		ModelName:    modelName,
		SeedRunes:    utf8.RuneCountInString(req.Seed),
		OutputRunes:  generated,
		TargetLength: length,
		DeadEnd:      generated < length,
		RemoteAddr:   r.RemoteAddr,
	}
	if err := m.stats.Record(r.Context(), rec); err != nil {
		m.logger.Warn("Failed to record generation", "name", modelName, "error", err)
	}
}

// streamGenerate writes the seed and then each generated character. It
// reports false if nothing was generated because the request was rejected.
func (m *ModelsAPI) streamGenerate(w http.ResponseWriter, r *http.Request, modelName, seed string, length int, opts []markov.GenerateOption) (int, bool) {
	flusher, canFlush := w.(http.Flusher)
	generated := 0

	err := m.registry.With(modelName, func(model *markov.Model) error {
		runeChan, err := model.GenerateStream(r.Context(), seed, length, opts...)
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, seed)
		for c := range runeChan {
			if _, err = io.WriteString(w, string(c)); err != nil {
				// The client is gone; drain so the generator can finish.
				for range runeChan {
				}
				return nil
			}
			generated++
			if canFlush {
				flusher.Flush()
			}
		}
		return nil
	})
	if errors.Is(err, markov.ErrSeedTooShort) {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return generated, true
}

// allowMethod writes a 405 and returns false unless r uses method.
func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}
