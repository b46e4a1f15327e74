package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/fwoerister/vdstore/internal/config"
	"github.com/fwoerister/vdstore/internal/datastore"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	ConfigPath   string
	StorePath    string
	RegistryPath string
	SiteURL      string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the vdstore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "vdstore",
		Short: "Versioned record store with citable queries",
		Long: `vdstore keeps every version of every record it is given and registers
every search it answers, so a search can be cited by PID and replayed later
with exactly the rows it returned at the time.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			setupLogging(cmd.ErrOrStderr(), opts.Verbose)
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default: ./vdstore.yaml or ~/.config/vdstore/vdstore.yaml)")
	cmd.PersistentFlags().StringVar(&opts.StorePath, "store", "", "record store database (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.RegistryPath, "registry", "", "query registry database (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.SiteURL, "site-url", "", "base URL of landing pages (overrides config)")

	// Resources
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewDropCommand(opts))
	cmd.AddCommand(NewFieldsCommand(opts))
	cmd.AddCommand(NewResourcesCommand(opts))

	// Records
	cmd.AddCommand(NewUpsertCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	// Queries
	cmd.AddCommand(NewSearchCommand(opts))
	cmd.AddCommand(NewResolveCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewQueriesCommand(opts))
	cmd.AddCommand(NewRemintCommand(opts))
	cmd.AddCommand(NewRehashCommand(opts))
	cmd.AddCommand(NewPurgeCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

func setupLogging(w io.Writer, verbose bool) {
	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// formatter builds the output formatter of cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// loadConfig reads the config file and applies the flag overrides.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.StorePath != "" {
		cfg.StorePath = o.StorePath
	}
	if o.RegistryPath != "" {
		cfg.RegistryPath = o.RegistryPath
	}
	if o.SiteURL != "" {
		cfg.SiteURL = o.SiteURL
	}
	return cfg, nil
}

// withService opens the service, runs fn and closes the service again.
// Closing drains the result-hash queue, so hashes deferred by fn are
// written before the command exits.
func (o *RootOptions) withService(ctx context.Context, fn func(*datastore.Service) error) (err error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	slog.Debug("opening service", "store", cfg.StorePath, "registry", cfg.RegistryPath)
	svc, err := datastore.Open(cfg, datastore.WithLogger(slog.Default()))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open datastore", err)
	}
	defer func() {
		if closeErr := svc.Close(); closeErr != nil {
			slog.Error("error closing datastore", "error", closeErr)
			if err == nil {
				err = WrapExitError(ExitFailure, "failed to close datastore", closeErr)
			}
		}
	}()
	return fn(svc)
}
