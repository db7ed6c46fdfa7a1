// ingestctl runs the ingestion pipeline in-process against a file, a folder
// or a watched directory, and queries what was indexed.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/feichai0017/tender-ingest/config"
	"github.com/feichai0017/tender-ingest/internal/agent/ocr/tesseract"
	"github.com/feichai0017/tender-ingest/internal/bootstrap"
	"github.com/feichai0017/tender-ingest/pkg/logger"
)

var Version = "dev"

type globalOptions struct {
	ConfigFile string
	ProjectID  string
	Languages  []string
	LogLevel   string
	JSON       bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "ingestctl",
		Short:         "Tender document ingestion CLI",
		Long:          "Ingest tender packages (PDF, office, e-mail, drawings, models, schedules) into the document and vector store.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", os.Getenv("CONFIG_FILE"), "YAML configuration file")
	rootCmd.PersistentFlags().StringVarP(&opts.ProjectID, "project", "p", "default", "Project id")
	rootCmd.PersistentFlags().StringSliceVarP(&opts.Languages, "lang", "l", nil, "Language hints, e.g. en,ar")
	rootCmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "Log level")
	rootCmd.PersistentFlags().BoolVarP(&opts.JSON, "json", "j", false, "Output in JSON format")

	rootCmd.AddCommand(newFileCmd(opts))
	rootCmd.AddCommand(newFolderCmd(opts))
	rootCmd.AddCommand(newSearchCmd(opts))
	rootCmd.AddCommand(newStatusCmd(opts))
	rootCmd.AddCommand(newWatchCmd(opts))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// open loads the configuration and wires the pipeline for one command.
func open(ctx context.Context, opts *globalOptions) (*bootstrap.Pipeline, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	cfg.Log.Level = opts.LogLevel
	cfg.Log.Encoding = "console"
	cfg.Log.OutputPaths = []string{"stderr"}

	log, err := bootstrap.NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	log = log.Named("ingestctl").With(logger.String("projectId", opts.ProjectID))

	return bootstrap.NewPipeline(ctx, cfg, log, bootstrap.Options{Tesseract: tesseract.NewEngine})
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
