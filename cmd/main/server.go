package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/CTAG07/charkov/pkg/corpus"
	"github.com/CTAG07/charkov/pkg/markov"
)

type Server struct {
	config    *Config
	db        *sql.DB
	logger    *slog.Logger
	registry  *ModelRegistry
	library   *corpus.Library
	authAPI   *AuthAPI
	modelsAPI *ModelsAPI
	corpusAPI *CorpusAPI
	statsAPI  *StatsAPI
	serverAPI *ServerAPI
	apiMux    *http.ServeMux
}

// NewServer wires the APIs together on a database whose schemas are already
// set up, and creates and trains the models listed in the config.
func NewServer(config *Config, logger *slog.Logger, db *sql.DB, actionChan chan string) (*Server, error) {
	library, err := corpus.NewLibrary(db)
	if err != nil {
		return nil, fmt.Errorf("error creating corpus library: %w", err)
	}
	library.SetLogger(logger)

	registry := NewModelRegistry(logger)

	// api initialization
	authAPI := NewAuthAPI(db, logger)
	statsAPI := NewStatsAPI(db, logger)
	modelsAPI := NewModelsAPI(registry, library, statsAPI, config.Generation, logger)
	corpusAPI := NewCorpusAPI(library, config.Generation.MaxTrainBytes, logger)
	serverAPI := NewServerAPI(config, actionChan, logger)

	server := &Server{
		config:    config,
		db:        db,
		logger:    logger,
		registry:  registry,
		library:   library,
		authAPI:   authAPI,
		modelsAPI: modelsAPI,
		corpusAPI: corpusAPI,
		statsAPI:  statsAPI,
		serverAPI: serverAPI,
		apiMux:    http.NewServeMux(),
	}

	if err = server.loadModels(context.Background()); err != nil {
		library.Close()
		return nil, err
	}

	apiMux := http.NewServeMux()

	server.authAPI.RegisterRoutes(apiMux)
	server.modelsAPI.RegisterRoutes(apiMux)
	server.corpusAPI.RegisterRoutes(apiMux)
	server.statsAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Make sure api functions must pass through authentication first
	authedAPI := server.authAPI.Authenticate(apiMux)
	// ... except for the health check, which is unauthed so something like docker can use it
	server.apiMux.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)
	server.apiMux.Handle("/api/", authedAPI)

	return server, nil
}

// Close releases the resources held by the server. The database itself is
// owned by the caller.
func (s *Server) Close() {
	s.library.Close()
}

// loadModels creates every configured model and trains it on its corpus.
func (s *Server) loadModels(ctx context.Context) error {
	for _, mc := range s.config.Models {
		if _, err := s.registry.Create(mc.Name, mc.WindowLength, mc.Seed); err != nil {
			return fmt.Errorf("failed to create model %q: %w", mc.Name, err)
		}

		data, closeFn, err := s.openModelCorpus(ctx, mc)
		if err != nil {
			return fmt.Errorf("failed to open corpus for model %q: %w", mc.Name, err)
		}
		if data == nil {
			s.logger.Info("Model created without a corpus", "name", mc.Name)
			continue
		}

		err = s.registry.With(mc.Name, func(model *markov.Model) error {
			return model.Train(ctx, data)
		})
		closeFn()
		if err != nil {
			return fmt.Errorf("failed to train model %q: %w", mc.Name, err)
		}
	}
	return nil
}

func (s *Server) openModelCorpus(ctx context.Context, mc ModelConfig) (io.Reader, func(), error) {
	switch {
	case mc.CorpusFile != "":
		f, err := os.Open(mc.CorpusFile)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { _ = f.Close() }, nil
	case mc.Corpus != "":
		r, err := s.library.Open(ctx, mc.Corpus)
		if err != nil {
			return nil, nil, err
		}
		return r, func() {}, nil
	default:
		return nil, nil, nil
	}
}
