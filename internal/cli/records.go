package cli

import (
	"github.com/spf13/cobra"

	"github.com/fwoerister/vdstore/internal/datastore"
)

// UpsertOptions holds flags for the upsert command.
type UpsertOptions struct {
	*RootOptions
	File   string
	DryRun bool
}

// NewUpsertCommand creates the upsert command.
func NewUpsertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpsertOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "upsert <resource>",
		Short: "Write a batch of records as new versions",
		Long: `Write a batch of records as new versions.

Records whose content equals the latest version of their key are skipped.
A record without the business key rejects the whole batch. The batch is a
JSON or YAML list of objects, read from --file or stdin.

Example:
  vdstore upsert sales --file sales.json
  cat sales.json | vdstore upsert sales --dry-run`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpsert(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "-", "record batch file (- for stdin)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "validate and count without writing")

	return cmd
}

func runUpsert(cmd *cobra.Command, opts *UpsertOptions, id string) error {
	f := opts.formatter(cmd)
	records, err := loadRecords(opts.File, cmd.InOrStdin())
	if err != nil {
		return f.Fail("invalid records", NewExitError(ExitCommandError, err.Error()))
	}
	f.VerboseLog("loaded %d records", len(records))

	return opts.withService(cmd.Context(), func(svc *datastore.Service) error {
		result, err := svc.Upsert(cmd.Context(), id, records, opts.DryRun)
		if err != nil {
			return f.Fail("upsert failed", err)
		}
		return f.Success(newUpsertView(id, opts.DryRun, result))
	})
}

// DeleteOptions holds flags for the delete command.
type DeleteOptions struct {
	*RootOptions
	Filter string
	All    bool
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeleteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "delete <resource>",
		Short: "Delete the records matching a filter",
		Long: `Delete the records matching a filter.

Deleted records stay visible to reads as of earlier instants. Without a
filter, --all is required.

Example:
  vdstore delete sales --filter '{"country":"AT"}'
  vdstore delete sales --all`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "structured filter as JSON")
	cmd.Flags().BoolVar(&opts.All, "all", false, "delete every record")

	return cmd
}

func runDelete(cmd *cobra.Command, opts *DeleteOptions, id string) error {
	f := opts.formatter(cmd)
	filters, err := parseFilter(opts.Filter)
	if err != nil {
		return f.Fail("invalid flags", NewExitError(ExitCommandError, err.Error()))
	}
	if len(filters) == 0 && !opts.All {
		return f.Fail("invalid flags", NewExitError(ExitCommandError, "an empty filter needs --all"))
	}

	return opts.withService(cmd.Context(), func(svc *datastore.Service) error {
		n, err := svc.Delete(cmd.Context(), id, filters)
		if err != nil {
			return f.Fail("delete failed", err)
		}
		return f.Success(DeleteView{Resource: id, Closed: n})
	})
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <resource> <key>",
		Short: "List every version of one record",
		Long: `List every version of one record, oldest first.

Example:
  vdstore history sales 42`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			return rootOpts.withService(cmd.Context(), func(svc *datastore.Service) error {
				versions, err := svc.History(cmd.Context(), args[0], args[1])
				if err != nil {
					return f.Fail("history failed", err)
				}
				return f.Success(newHistoryView(args[0], args[1], versions))
			})
		},
	}
	return cmd
}
