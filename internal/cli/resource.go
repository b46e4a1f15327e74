package cli

import (
	"github.com/spf13/cobra"

	"github.com/fwoerister/vdstore/internal/datastore"
)

// SchemaOptions holds flags for the create and schema commands.
type SchemaOptions struct {
	*RootOptions
	Key        string
	SchemaFile string
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SchemaOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create <resource>",
		Short: "Create a resource",
		Long: `Create a resource keyed by a business key field.

Creating an existing resource with the same key is a no-op and brings back
a dropped resource. The optional schema file (.json, .yaml or .cue) declares
the fields and may carry the key itself.

Example:
  vdstore create sales --key id
  vdstore create sales --schema sales.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.Key, "key", "k", "", "business key field")
	cmd.Flags().StringVarP(&opts.SchemaFile, "schema", "s", "", "schema file")

	return cmd
}

func runCreate(cmd *cobra.Command, opts *SchemaOptions, id string) error {
	f := opts.formatter(cmd)
	file, err := loadSchema(opts.SchemaFile, opts.Key)
	if err != nil {
		return f.Fail("invalid schema", NewExitError(ExitCommandError, err.Error()))
	}

	return opts.withService(cmd.Context(), func(svc *datastore.Service) error {
		ctx := cmd.Context()
		if _, err := svc.Create(ctx, id, file.PrimaryKey, file.Fields); err != nil {
			return f.Fail("create failed", err)
		}
		info, err := svc.Fields(ctx, id, nil)
		if err != nil {
			return f.Fail("create failed", err)
		}
		f.VerboseLog("created resource %s", id)
		return f.Success(newResourceView(info))
	})
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SchemaOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "schema <resource>",
		Short: "Replace the field list of a resource",
		Long: `Replace the field list of a resource.

The previous field list stays visible to reads as of earlier instants.
The business key cannot change.

Example:
  vdstore schema sales --schema sales.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.SchemaFile, "schema", "s", "", "schema file (required)")
	_ = cmd.MarkFlagRequired("schema")

	return cmd
}

func runSchema(cmd *cobra.Command, opts *SchemaOptions, id string) error {
	f := opts.formatter(cmd)
	file, err := loadSchema(opts.SchemaFile, "")
	if err != nil {
		return f.Fail("invalid schema", NewExitError(ExitCommandError, err.Error()))
	}

	return opts.withService(cmd.Context(), func(svc *datastore.Service) error {
		ctx := cmd.Context()
		if err := svc.Store().UpdateSchema(ctx, id, file.PrimaryKey, file.Fields); err != nil {
			return f.Fail("schema update failed", err)
		}
		info, err := svc.Fields(ctx, id, nil)
		if err != nil {
			return f.Fail("schema update failed", err)
		}
		return f.Success(newResourceView(info))
	})
}

// NewDropCommand creates the drop command.
func NewDropCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drop <resource>",
		Short: "Drop a resource and erase its records",
		Long: `Drop a resource and erase its records.

Queries registered against the resource stay in the registry but can no
longer be replayed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			return rootOpts.withService(cmd.Context(), func(svc *datastore.Service) error {
				if err := svc.Store().Drop(cmd.Context(), args[0]); err != nil {
					return f.Fail("drop failed", err)
				}
				return f.Success(CountView{Action: "dropped " + args[0], Count: 1})
			})
		},
	}
	return cmd
}

// FieldsOptions holds flags for the fields command.
type FieldsOptions struct {
	*RootOptions
	AsOf string
}

// NewFieldsCommand creates the fields command.
func NewFieldsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FieldsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fields <resource>",
		Short: "Show the fields of a resource",
		Long: `Show the fields of a resource, now or as they were at an earlier instant.

Example:
  vdstore fields sales --as-of 2026-01-01T00:00:00Z`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			asOf, err := parseAsOf(opts.AsOf)
			if err != nil {
				return f.Fail("invalid flags", NewExitError(ExitCommandError, err.Error()))
			}
			return opts.withService(cmd.Context(), func(svc *datastore.Service) error {
				info, err := svc.Fields(cmd.Context(), args[0], asOf)
				if err != nil {
					return f.Fail("fields failed", err)
				}
				return f.Success(newResourceView(info))
			})
		},
	}

	cmd.Flags().StringVar(&opts.AsOf, "as-of", "", "instant to read the schema at (RFC 3339)")

	return cmd
}

// NewResourcesCommand creates the resources command.
func NewResourcesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "resources",
		Short:         "List active resources",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			return rootOpts.withService(cmd.Context(), func(svc *datastore.Service) error {
				ids, err := svc.Store().Resources(cmd.Context())
				if err != nil {
					return f.Fail("list failed", err)
				}
				if ids == nil {
					ids = []string{}
				}
				return f.Success(ResourceListView{Resources: ids})
			})
		},
	}
	return cmd
}
