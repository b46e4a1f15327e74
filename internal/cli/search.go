package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/fwoerister/vdstore/internal/datastore"
	"github.com/fwoerister/vdstore/internal/translate"
)

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	Query    string
	Filter   string
	Fields   []string
	Sort     string
	Distinct bool
	Offset   int
	Limit    int
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search <resource>",
		Short: "Search a resource and register the query",
		Long: `Search a resource and register the query.

Every search is registered with the instant it ran at and a hash of its
full result set, and is cited by the PID printed with the rows. Identical
searches over identical data share one PID.

Example:
  vdstore search sales --filter '{"amount":">=100"}' --sort "amount desc"
  vdstore search sales --q Vienna --fields id,city --limit 10`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Query, "q", "", "free-text value matched against every field")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "structured filter as JSON")
	cmd.Flags().StringSliceVar(&opts.Fields, "fields", nil, "projected fields")
	cmd.Flags().StringVar(&opts.Sort, "sort", "", `sort order, e.g. "amount desc, id"`)
	cmd.Flags().BoolVar(&opts.Distinct, "distinct", false, "distinct values of the single projected field")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "rows to skip")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "rows to return (default: rows_max)")

	return cmd
}

func runSearch(cmd *cobra.Command, opts *SearchOptions, id string) error {
	f := opts.formatter(cmd)
	filters, err := parseFilter(opts.Filter)
	if err != nil {
		return f.Fail("invalid flags", NewExitError(ExitCommandError, err.Error()))
	}

	req := datastore.SearchRequest{
		ResourceID: id,
		Request: translate.Request{
			Query:    strings.TrimSpace(opts.Query),
			Filters:  filters,
			Fields:   opts.Fields,
			Sort:     opts.Sort,
			Distinct: opts.Distinct,
		},
		Offset: opts.Offset,
		Limit:  opts.Limit,
	}

	return opts.withService(cmd.Context(), func(svc *datastore.Service) error {
		result, err := svc.Search(cmd.Context(), req)
		if err != nil {
			return f.Fail("search failed", err)
		}
		f.VerboseLog("registered query %d", result.Query.ID)
		return f.Success(PageView{
			PID:        result.PID,
			LandingURL: svc.Registry().LandingURL(result.Query.ID),
			Resource:   id,
			AsOf:       result.AsOf.UTC(),
			Total:      result.Total,
			Offset:     opts.Offset,
			Fields:     result.Fields,
			Rows:       result.Rows,
			ResultHash: result.Query.ResultSetHash,
		})
	})
}

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	Offset int
	Limit  int
	Verify bool
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve <pid|id>",
		Short: "Replay a registered query",
		Long: `Replay a registered query at the instant it originally ran.

With --verify the full result set is hashed again and compared with the
registered hash; a mismatch exits with code 1.

Example:
  vdstore resolve local/0192f0e4-... --verify`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd, opts, args[0])
		},
	}

	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "rows to skip")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "rows to return (default: rows_max)")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "recompute and compare the result-set hash")

	return cmd
}

func runResolve(cmd *cobra.Command, opts *ResolveOptions, ref string) error {
	f := opts.formatter(cmd)

	return opts.withService(cmd.Context(), func(svc *datastore.Service) error {
		result, err := svc.Resolve(cmd.Context(), ref, datastore.ResolveOptions{
			Offset: opts.Offset,
			Limit:  opts.Limit,
			Verify: opts.Verify,
		})
		if err != nil {
			return f.Fail("resolve failed", err)
		}
		q := result.Query
		return f.Success(PageView{
			PID:        q.Ref(),
			LandingURL: svc.Registry().LandingURL(q.ID),
			Resource:   q.ResourceID,
			AsOf:       q.AsOf,
			Total:      result.Total,
			Offset:     opts.Offset,
			Fields:     fieldsOf(q),
			Rows:       result.Rows,
			ResultHash: q.ResultSetHash,
			Verified:   result.Verified,
		})
	})
}
