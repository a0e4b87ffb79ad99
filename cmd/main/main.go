package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CTAG07/charkov/pkg/corpus"
	"github.com/CTAG07/charkov/pkg/markov"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const defaultConfigPath = "./config.json"

var (
	configPath string

	corpusPath   string
	windowLength int
	modelSeed    uint64
	genStart     string
	genLength    int
	genTemp      float64
	genTopK      int
	statsTop     int
	verbose      bool
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "charkov",
		Short:         "Character-level Markov text generator",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runServeCmd,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to a JSON or TOML config file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newGenerateCmd())
	rootCmd.AddCommand(newDumpCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newCorpusCmd())

	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		Args:  cobra.NoArgs,
		RunE:  runServeCmd,
	}
}

// addModelFlags registers the flags shared by the commands that train a
// model from a file.
func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&corpusPath, "corpus", "", "corpus file to train on ('-' for stdin)")
	cmd.Flags().IntVar(&windowLength, "window", 3, "window length in characters")
	cmd.Flags().Uint64Var(&modelSeed, "seed", 0, "random seed for reproducible output")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log training and generation details to stderr")
	_ = cmd.MarkFlagRequired("corpus")
}

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Train on a corpus file and print generated text",
		Args:  cobra.NoArgs,
		RunE:  runGenerateCmd,
	}
	addModelFlags(cmd)
	cmd.Flags().StringVar(&genStart, "start", "", "seed text (default: the first window of the corpus)")
	cmd.Flags().IntVar(&genLength, "length", 200, "number of characters to generate")
	cmd.Flags().Float64Var(&genTemp, "temperature", 1.0, "sampling temperature; 0 always picks the most frequent character")
	cmd.Flags().IntVar(&genTopK, "top-k", 0, "only sample from the k most frequent characters (0 disables)")
	return cmd
}

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Train on a corpus file and print the frequency tables",
		Args:  cobra.NoArgs,
		RunE:  runDumpCmd,
	}
	addModelFlags(cmd)
	return cmd
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Train on a corpus file and print model statistics",
		Args:  cobra.NoArgs,
		RunE:  runStatsCmd,
	}
	addModelFlags(cmd)
	cmd.Flags().IntVar(&statsTop, "top", 20, "number of busiest windows to list")
	return cmd
}

func runGenerateCmd(cmd *cobra.Command, _ []string) error {
	model, text, err := trainFromFlags(cmd)
	if err != nil {
		return err
	}
	if genLength < 0 {
		return fmt.Errorf("--length must not be negative, got %d", genLength)
	}

	start := genStart
	if !cmd.Flags().Changed("start") {
		start = firstWindow(text, model.WindowLength())
	}

	out := model.Generate(start, genLength, markov.WithTemperature(genTemp), markov.WithTopK(genTopK))
	_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
	return err
}

func runDumpCmd(cmd *cobra.Command, _ []string) error {
	model, _, err := trainFromFlags(cmd)
	if err != nil {
		return err
	}
	_, err = model.WriteTo(cmd.OutOrStdout())
	return err
}

func runStatsCmd(cmd *cobra.Command, _ []string) error {
	model, _, err := trainFromFlags(cmd)
	if err != nil {
		return err
	}
	return writeStatsTable(cmd.OutOrStdout(), model, statsTop)
}

// trainFromFlags builds a model from the shared model flags and trains it on
// the corpus file. It also returns the corpus text.
func trainFromFlags(cmd *cobra.Command) (*markov.Model, string, error) {
	opts := []markov.Option{}
	if cmd.Flags().Changed("seed") {
		opts = append(opts, markov.WithSeed(modelSeed))
	}
	if verbose {
		opts = append(opts, markov.WithLogger(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))))
	}
	model, err := markov.New(windowLength, opts...)
	if err != nil {
		return nil, "", err
	}

	var data []byte
	if corpusPath == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(corpusPath)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read corpus: %w", err)
	}

	text := string(data)
	model.TrainString(text)
	return model, text, nil
}

// firstWindow returns the first n runes of text, or all of it when shorter.
func firstWindow(text string, n int) string {
	i := 0
	for pos := range text {
		if i == n {
			return text[:pos]
		}
		i++
	}
	return text
}

func newCorpusCmd() *cobra.Command {
	corpusCmd := &cobra.Command{
		Use:   "corpus",
		Short: "Manage corpora stored in the database",
	}
	corpusCmd.AddCommand(&cobra.Command{
		Use:   "add <name> <file>",
		Short: "Store a corpus file under a name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLibrary(func(ctx context.Context, l *corpus.Library) error {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				info, err := l.Add(ctx, args[0], f)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d runes\n", info.Name, info.ID, info.Runes)
				return err
			})
		},
	})
	corpusCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored corpora",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLibrary(func(ctx context.Context, l *corpus.Library) error {
				infos, err := l.List(ctx)
				if err != nil {
					return err
				}
				return writeCorpusTable(cmd.OutOrStdout(), infos)
			})
		},
	})
	corpusCmd.AddCommand(&cobra.Command{
		Use:   "rm <name>",
		Short: "Remove a stored corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withLibrary(func(ctx context.Context, l *corpus.Library) error {
				return l.Remove(ctx, args[0])
			})
		},
	})
	return corpusCmd
}

// withLibrary opens the configured database for a one-off corpus command.
func withLibrary(fn func(context.Context, *corpus.Library) error) error {
	config, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err = os.MkdirAll(config.Server.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := initDB(config.Server.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err = corpus.SetupSchema(db); err != nil {
		return err
	}
	l, err := corpus.NewLibrary(db)
	if err != nil {
		return err
	}
	defer l.Close()
	return fn(context.Background(), l)
}

func runServeCmd(_ *cobra.Command, _ []string) error {
	baseLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan // Wait for a signal
		baseLogger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	for {
		action, err := run(actionChan)
		if err != nil {
			baseLogger.Error("An error occurred during server run, shutting down.", "error", err)
			return err
		}
		if action != actionRestart {
			break
		}
		baseLogger.Info("--- Server Restarting ---")
	}

	baseLogger.Info("Charkov has shut down.")
	return nil
}

// run hosts the api server and returns whenever it is shut down or restarted.
// The config is reloaded on every cycle.
func run(actionChan chan string) (string, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := newLogger(config.Server.LogLevel)
	logger.Info("Starting server cycle...")

	if err = os.MkdirAll(config.Server.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := initDB(config.Server.DatabasePath)
	if err != nil {
		return "", fmt.Errorf("failed to initialize database: %w", err)
	}

	if err = corpus.SetupSchema(db); err != nil {
		logger.Error("Failed to setup corpus schema", "error", err)
	}
	if err = setupAuthSchema(db); err != nil {
		logger.Error("Failed to setup auth schema", "error", err)
	}
	if err = setupStatsSchema(db); err != nil {
		logger.Error("Failed to setup stats schema", "error", err)
	}

	server, err := NewServer(config, logger, db, actionChan)
	if err != nil {
		_ = db.Close()
		return "", fmt.Errorf("failed to create server object: %w", err)
	}

	apiHttpServer := &http.Server{Addr: config.Server.ApiAddr, Handler: server.apiMux}

	go func() {
		logger.Info("Starting api server", "address", apiHttpServer.Addr)
		if err := apiHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Api server failed", "error", err)
			actionChan <- actionShutdown
		}
	}()

	action := <-actionChan // Block here until API or OS signal sends an action.

	logger.Info("Stopping server for " + action + "...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = apiHttpServer.Shutdown(ctx); err != nil {
		logger.Error("Api server shutdown failed", "error", err)
	}
	logger.Info("HTTP server stopped.")

	server.Close()
	logger.Info("Closing database connection.")
	if err = db.Close(); err != nil {
		logger.Error("Failed to close database", "error", err)
	}

	return action, nil
}
