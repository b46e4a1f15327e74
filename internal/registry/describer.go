package registry

import (
	"context"
	"fmt"
)

// PackageInfo is the citation context of a resource: its owning package
// and its own display name.
type PackageInfo struct {
	Title        string
	Author       string
	Maintainer   string
	ResourceName string
	// Extras are free-form package entries, copied as citation_<key>.
	Extras map[string]string
}

// PackageDescriber looks up the citation context of a resource.
// It is called once per new registration.
type PackageDescriber interface {
	DescribePackage(ctx context.Context, resourceID string) (PackageInfo, error)
}

// StaticDescriber serves package info from a fixed table, typically loaded
// from configuration. The "*" entry applies to resources without their own.
type StaticDescriber map[string]PackageInfo

// DescribePackage returns the entry of resourceID, falling back to "*".
// A resource without either gets its id as resource name.
func (d StaticDescriber) DescribePackage(ctx context.Context, resourceID string) (PackageInfo, error) {
	if err := ctx.Err(); err != nil {
		return PackageInfo{}, fmt.Errorf("describe %q: %w", resourceID, err)
	}
	info, ok := d[resourceID]
	if !ok {
		info = d["*"]
	}
	if info.ResourceName == "" {
		info.ResourceName = resourceID
	}
	return info, nil
}

// citationMetadata flattens info into the metadata stored with a query.
func citationMetadata(info PackageInfo) map[string]string {
	md := map[string]string{
		"citation_title":      info.Title,
		"citation_author":     info.Author,
		"citation_maintainer": info.Maintainer,
		"citation_filename":   info.ResourceName,
	}
	for k, v := range info.Extras {
		md["citation_"+k] = v
	}
	return md
}
