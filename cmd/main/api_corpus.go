package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/CTAG07/charkov/pkg/corpus"
)

// CorpusAPI holds the dependencies for the stored corpus handlers.
type CorpusAPI struct {
	library  *corpus.Library
	maxBytes int64
	logger   *slog.Logger
}

func NewCorpusAPI(library *corpus.Library, maxBytes int64, logger *slog.Logger) *CorpusAPI {
	return &CorpusAPI{
		library:  library,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// RegisterRoutes sets up the routing for all /api/corpora endpoints.
func (c *CorpusAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/corpora", c.handleListAndAdd)
	mux.HandleFunc("/api/corpora/", c.handleCorpusByName)
}

// handleListAndAdd lists corpora on GET. POST stores the raw request body
// under the name given in the name query parameter.
func (c *CorpusAPI) handleListAndAdd(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, scopeCorpusRead) {
			return
		}
		infos, err := c.library.List(r.Context())
		if err != nil {
			c.logger.Error("Failed to list corpora", "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list corpora: %v", err))
			return
		}
		respondWithJSON(w, http.StatusOK, infos)

	case http.MethodPost:
		if !requireScope(w, r, scopeCorpusWrite) {
			return
		}
		name := r.URL.Query().Get("name")
		if name == "" || strings.Contains(name, "/") {
			respondWithError(w, http.StatusBadRequest, "A corpus name without '/' is required in the 'name' query parameter")
			return
		}
		info, err := c.library.Add(r.Context(), name, http.MaxBytesReader(w, r.Body, c.maxBytes))
		if err != nil {
			var maxBytesErr *http.MaxBytesError
			switch {
			case errors.Is(err, corpus.ErrExists):
				respondWithError(w, http.StatusConflict, err.Error())
			case errors.As(err, &maxBytesErr):
				respondWithError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Corpus exceeds %d bytes", maxBytesErr.Limit))
			default:
				c.logger.Error("Failed to add corpus", "name", name, "error", err)
				respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to add corpus: %v", err))
			}
			return
		}
		respondWithJSON(w, http.StatusCreated, info)

	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleCorpusByName returns metadata (or the text with ?content=true) on
// GET and removes the corpus on DELETE.
func (c *CorpusAPI) handleCorpusByName(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/corpora/"), "/")
	if name == "" || strings.Contains(name, "/") {
		respondWithError(w, http.StatusBadRequest, "Corpus name not specified")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, scopeCorpusRead) {
			return
		}
		if r.URL.Query().Get("content") == "true" {
			reader, err := c.library.Open(r.Context(), name)
			if err != nil {
				c.respondLookupError(w, name, err)
				return
			}
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = io.Copy(w, reader)
			return
		}
		info, err := c.library.Get(r.Context(), name)
		if err != nil {
			c.respondLookupError(w, name, err)
			return
		}
		respondWithJSON(w, http.StatusOK, info)

	case http.MethodDelete:
		if !requireScope(w, r, scopeCorpusWrite) {
			return
		}
		if err := c.library.Remove(r.Context(), name); err != nil {
			c.respondLookupError(w, name, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (c *CorpusAPI) respondLookupError(w http.ResponseWriter, name string, err error) {
	if errors.Is(err, corpus.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "Corpus not found")
		return
	}
	c.logger.Error("Corpus lookup failed", "name", name, "error", err)
	respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
}
