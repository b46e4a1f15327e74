package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fwoerister/vdstore/internal/datastore"
	"github.com/fwoerister/vdstore/internal/registry"
	"github.com/fwoerister/vdstore/internal/schema"
)

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "show <pid|id>",
		Short:         "Show a registered query and its citation metadata",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			return rootOpts.withService(cmd.Context(), func(svc *datastore.Service) error {
				q, err := svc.Registry().Resolve(cmd.Context(), args[0])
				if err != nil {
					return f.Fail("show failed", err)
				}
				return f.Success(newQueryView(svc.Registry(), q))
			})
		},
	}
	return cmd
}

// NewQueriesCommand creates the queries command.
func NewQueriesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "queries",
		Short:         "List registered queries",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			return rootOpts.withService(cmd.Context(), func(svc *datastore.Service) error {
				ctx := cmd.Context()
				reg := svc.Registry()
				ids, err := reg.IDs(ctx)
				if err != nil {
					return f.Fail("list failed", err)
				}
				list := QueryListView{Queries: make([]QueryView, 0, len(ids))}
				for _, id := range ids {
					q, err := reg.Resolve(ctx, strconv.FormatInt(id, 10))
					if err != nil {
						return f.Fail("list failed", err)
					}
					list.Queries = append(list.Queries, newQueryView(reg, q))
				}
				return f.Success(list)
			})
		},
	}
	return cmd
}

// NewRemintCommand creates the remint command.
func NewRemintCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "remint",
		Short:         "Retry minting PIDs for queries registered without one",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			return rootOpts.withService(cmd.Context(), func(svc *datastore.Service) error {
				n, err := svc.Registry().Remint(cmd.Context())
				if err != nil {
					return f.Fail("remint failed", err)
				}
				return f.Success(CountView{Action: "minted", Count: int64(n)})
			})
		},
	}
	return cmd
}

// NewRehashCommand creates the rehash command.
func NewRehashCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rehash",
		Short: "Compute result-set hashes still pending",
		Long: `Compute result-set hashes still pending.

Queries registered with async hashing, or whose hashing gave up after
repeated failures, are hashed again at the instant they were registered.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			return rootOpts.withService(cmd.Context(), func(svc *datastore.Service) error {
				ctx := cmd.Context()
				n, err := svc.Worker().Resume(ctx)
				if err != nil {
					return f.Fail("rehash failed", err)
				}
				if err := svc.Worker().Drain(ctx); err != nil {
					return f.Fail("rehash failed", err)
				}
				pending, err := svc.Registry().Pending(ctx)
				if err != nil {
					return f.Fail("rehash failed", err)
				}
				f.VerboseLog("%d queries still pending", len(pending))
				return f.Success(CountView{Action: "hashed", Count: int64(n - len(pending))})
			})
		},
	}
	return cmd
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every registered query",
		Long: `Delete every registered query. Their PIDs no longer resolve.

Records are not touched.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			if !yes {
				return f.Fail("purge refused", NewExitError(ExitCommandError, "pass --yes to delete every registered query"))
			}
			return rootOpts.withService(cmd.Context(), func(svc *datastore.Service) error {
				n, err := svc.Registry().Purge(cmd.Context())
				if err != nil {
					return f.Fail("purge failed", err)
				}
				return f.Success(CountView{Action: "purged", Count: n})
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the purge")

	return cmd
}

// fieldsOf rebuilds the projected schema a query was registered with.
func fieldsOf(q registry.Query) []schema.FieldDefinition {
	fields := make([]schema.FieldDefinition, len(q.Fields))
	for i, rf := range q.Fields {
		fields[i] = schema.FieldDefinition{ID: rf.Name, Type: rf.Datatype, Notes: rf.Description}
	}
	return fields
}
