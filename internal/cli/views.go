package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fwoerister/vdstore/internal/ir"
	"github.com/fwoerister/vdstore/internal/registry"
	"github.com/fwoerister/vdstore/internal/schema"
	"github.com/fwoerister/vdstore/internal/store"
)

// ResourceView is the output of create, schema and fields.
type ResourceView struct {
	ID         string                   `json:"id"`
	PrimaryKey string                   `json:"primary_key"`
	Active     bool                     `json:"active"`
	CreatedAt  time.Time                `json:"created_at"`
	Fields     []schema.FieldDefinition `json:"fields"`
}

func newResourceView(info store.ResourceInfo) ResourceView {
	fields := info.Fields
	if fields == nil {
		fields = []schema.FieldDefinition{}
	}
	return ResourceView{
		ID:         info.ID,
		PrimaryKey: info.PrimaryKey,
		Active:     info.Active,
		CreatedAt:  info.CreatedAt,
		Fields:     fields,
	}
}

func (v ResourceView) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Resource %s (key: %s)\n", v.ID, v.PrimaryKey)
	renderFields(w, v.Fields)
}

// ResourceListView is the output of resources.
type ResourceListView struct {
	Resources []string `json:"resources"`
}

func (v ResourceListView) RenderText(w io.Writer) {
	if len(v.Resources) == 0 {
		fmt.Fprintln(w, "No resources")
		return
	}
	for _, id := range v.Resources {
		fmt.Fprintln(w, id)
	}
}

// UpsertView is the output of upsert.
type UpsertView struct {
	Resource   string        `json:"resource"`
	DryRun     bool          `json:"dry_run"`
	Inserted   int           `json:"inserted"`
	Unchanged  int           `json:"unchanged"`
	Superseded int           `json:"superseded"`
	Warnings   []WarningView `json:"warnings,omitempty"`
	At         *time.Time    `json:"at,omitempty"`
}

// WarningView is a value that failed type coercion.
type WarningView struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Value   string `json:"value"`
	Target  string `json:"target"`
	Message string `json:"message"`
}

func newUpsertView(id string, dryRun bool, r store.UpsertResult) UpsertView {
	v := UpsertView{
		Resource:   id,
		DryRun:     dryRun,
		Inserted:   r.Inserted,
		Unchanged:  r.Unchanged,
		Superseded: r.Superseded,
	}
	for _, warn := range r.Warnings {
		v.Warnings = append(v.Warnings, WarningView{
			Index:   warn.Index,
			Field:   warn.Field,
			Value:   renderValue(warn.Value),
			Target:  warn.Target.String(),
			Message: warn.String(),
		})
	}
	if !r.At.IsZero() {
		v.At = &r.At
	}
	return v
}

func (v UpsertView) RenderText(w io.Writer) {
	prefix := ""
	if v.DryRun {
		prefix = "[dry run] "
	}
	fmt.Fprintf(w, "%s%s: %d inserted, %d unchanged, %d superseded\n",
		prefix, v.Resource, v.Inserted, v.Unchanged, v.Superseded)
	for _, warn := range v.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn.Message)
	}
}

// DeleteView is the output of delete.
type DeleteView struct {
	Resource string `json:"resource"`
	Closed   int64  `json:"closed"`
}

func (v DeleteView) RenderText(w io.Writer) {
	fmt.Fprintf(w, "%s: %d records deleted\n", v.Resource, v.Closed)
}

// VersionView is one version in the output of history.
type VersionView struct {
	Seq       int64      `json:"seq"`
	Payload   ir.Object  `json:"payload"`
	CreatedAt time.Time  `json:"created_at"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`
	IsLatest  bool       `json:"is_latest"`
	Hash      string     `json:"content_hash"`
}

// HistoryView is the output of history.
type HistoryView struct {
	Resource string        `json:"resource"`
	Key      string        `json:"key"`
	Versions []VersionView `json:"versions"`
}

func newHistoryView(id, key string, versions []store.Version) HistoryView {
	v := HistoryView{Resource: id, Key: key, Versions: make([]VersionView, len(versions))}
	for i, ver := range versions {
		v.Versions[i] = VersionView{
			Seq:       ver.Seq,
			Payload:   ver.Payload,
			CreatedAt: ver.CreatedAt,
			ValidTo:   ver.ValidTo,
			IsLatest:  ver.IsLatest,
			Hash:      ver.ContentHash,
		}
	}
	return v
}

func (v HistoryView) RenderText(w io.Writer) {
	if len(v.Versions) == 0 {
		fmt.Fprintf(w, "No versions of %s in %s\n", v.Key, v.Resource)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tFROM\tTO\tPAYLOAD")
	for _, ver := range v.Versions {
		to := "-"
		if ver.ValidTo != nil {
			to = formatTime(*ver.ValidTo)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", ver.Seq, formatTime(ver.CreatedAt), to, renderValue(ver.Payload))
	}
	tw.Flush()
}

// PageView is a page of rows, the output of search and resolve.
type PageView struct {
	PID        string                   `json:"pid"`
	LandingURL string                   `json:"landing_url,omitempty"`
	Resource   string                   `json:"resource"`
	AsOf       time.Time                `json:"as_of"`
	Total      int64                    `json:"total"`
	Offset     int                      `json:"offset"`
	Fields     []schema.FieldDefinition `json:"fields"`
	Rows       []ir.Object              `json:"rows"`
	// ResultHash is empty while the hash is pending.
	ResultHash string `json:"result_set_hash,omitempty"`
	Verified   bool   `json:"verified,omitempty"`
}

func (v PageView) RenderText(w io.Writer) {
	fmt.Fprintf(w, "PID:    %s\n", v.PID)
	if v.LandingURL != "" {
		fmt.Fprintf(w, "URL:    %s\n", v.LandingURL)
	}
	fmt.Fprintf(w, "As of:  %s\n", formatTime(v.AsOf))
	hash := v.ResultHash
	if hash == "" {
		hash = "(pending)"
	} else if v.Verified {
		hash += " (verified)"
	}
	fmt.Fprintf(w, "Hash:   %s\n", hash)
	fmt.Fprintf(w, "Rows:   %d-%d of %d\n\n", min(int64(v.Offset+1), v.Total), int64(v.Offset+len(v.Rows)), v.Total)

	ids := schema.IDs(v.Fields)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(ids, "\t"))
	for _, row := range v.Rows {
		cells := make([]string, len(ids))
		for i, id := range ids {
			cells[i] = renderValue(row[id])
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()
}

// QueryView is a registered query, the output of show and queries.
type QueryView struct {
	ID              int64                  `json:"id"`
	PID             string                 `json:"pid"`
	Resource        string                 `json:"resource"`
	Query           any                    `json:"query"`
	AsOf            time.Time              `json:"as_of"`
	QueryHash       string                 `json:"query_hash"`
	ResultSetHash   string                 `json:"result_set_hash,omitempty"`
	RecordFieldHash string                 `json:"record_field_hash"`
	HashAlgorithm   string                 `json:"hash_algorithm"`
	DuplicateOf     int64                  `json:"duplicate_of,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	LandingURL      string                 `json:"landing_url"`
	Fields          []registry.RecordField `json:"fields,omitempty"`
	Metadata        map[string]string      `json:"metadata,omitempty"`
}

func newQueryView(reg *registry.Registry, q registry.Query) QueryView {
	return QueryView{
		ID:              q.ID,
		PID:             q.PID,
		Resource:        q.ResourceID,
		Query:           q.Compiled,
		AsOf:            q.AsOf,
		QueryHash:       q.QueryHash,
		ResultSetHash:   q.ResultSetHash,
		RecordFieldHash: q.RecordFieldHash,
		HashAlgorithm:   q.HashAlgorithm,
		DuplicateOf:     q.DuplicateOf,
		CreatedAt:       q.CreatedAt,
		LandingURL:      reg.LandingURL(q.ID),
		Fields:          q.Fields,
		Metadata:        q.Metadata,
	}
}

func (v QueryView) RenderText(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%d\n", v.ID)
	fmt.Fprintf(tw, "PID:\t%s\n", orDash(v.PID))
	fmt.Fprintf(tw, "Resource:\t%s\n", v.Resource)
	fmt.Fprintf(tw, "As of:\t%s\n", formatTime(v.AsOf))
	fmt.Fprintf(tw, "Query hash:\t%s\n", v.QueryHash)
	fmt.Fprintf(tw, "Result hash:\t%s\n", orDash(v.ResultSetHash))
	fmt.Fprintf(tw, "Field hash:\t%s\n", v.RecordFieldHash)
	if v.DuplicateOf != 0 {
		fmt.Fprintf(tw, "Duplicate of:\t%d\n", v.DuplicateOf)
	}
	fmt.Fprintf(tw, "URL:\t%s\n", v.LandingURL)
	for _, k := range sortedKeys(v.Metadata) {
		fmt.Fprintf(tw, "%s:\t%s\n", k, v.Metadata[k])
	}
	tw.Flush()
}

// QueryListView is the output of queries.
type QueryListView struct {
	Queries []QueryView `json:"queries"`
}

func (v QueryListView) RenderText(w io.Writer) {
	if len(v.Queries) == 0 {
		fmt.Fprintln(w, "No queries")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPID\tRESOURCE\tAS OF\tHASH")
	for _, q := range v.Queries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			q.ID, orDash(q.PID), q.Resource, formatTime(q.AsOf), orDash(shortHash(q.ResultSetHash)))
	}
	tw.Flush()
}

// CountView reports how many items a maintenance command touched.
type CountView struct {
	Action string `json:"action"`
	Count  int64  `json:"count"`
}

func (v CountView) RenderText(w io.Writer) {
	fmt.Fprintf(w, "%s: %d\n", v.Action, v.Count)
}

func renderFields(w io.Writer, fields []schema.FieldDefinition) {
	if len(fields) == 0 {
		fmt.Fprintln(w, "  (no fields)")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, f := range fields {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", f.ID, f.EffectiveType(), f.Description())
	}
	tw.Flush()
}

func renderValue(v ir.Value) string {
	switch v.(type) {
	case nil, ir.Null:
		return ""
	case ir.Object, ir.Array:
		b, err := ir.MarshalValue(v)
		if err != nil {
			return "?"
		}
		return string(b)
	default:
		return ir.Text(v)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
