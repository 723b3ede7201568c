package registry

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed charts/*.yaml
var embeddedCharts embed.FS

// Source supplies chart data to the registry.
type Source interface {
	Charts(ctx context.Context) ([]Chart, error)
}

// EmbeddedSource serves the charts compiled into the binary. When Dir is set,
// any *.yaml chart found there replaces the embedded chart of the same jurisdiction.
type EmbeddedSource struct {
	Dir string
}

// Charts returns the embedded charts merged with any on-disk overrides.
func (s EmbeddedSource) Charts(ctx context.Context) ([]Chart, error) {
	byJurisdiction := make(map[string]Chart)

	if err := readCharts(ctx, embeddedCharts, "charts", byJurisdiction); err != nil {
		return nil, err
	}

	if s.Dir != "" {
		if _, err := os.Stat(s.Dir); err != nil {
			return nil, fmt.Errorf("chart directory %s: %w", s.Dir, err)
		}
		if err := readCharts(ctx, os.DirFS(s.Dir), ".", byJurisdiction); err != nil {
			return nil, err
		}
	}

	charts := make([]Chart, 0, len(byJurisdiction))
	for _, chart := range byJurisdiction {
		charts = append(charts, chart)
	}
	sort.Slice(charts, func(i, j int) bool {
		return charts[i].Jurisdiction < charts[j].Jurisdiction
	})
	return charts, nil
}

func readCharts(ctx context.Context, fsys fs.FS, dir string, into map[string]Chart) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to list charts: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}

		data, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(dir, entry.Name())))
		if err != nil {
			return fmt.Errorf("failed to read chart %s: %w", entry.Name(), err)
		}
		chart, err := ParseChart(data)
		if err != nil {
			return fmt.Errorf("chart %s: %w", entry.Name(), err)
		}
		into[chart.Jurisdiction] = chart
	}
	return nil
}

// StaticSource serves a fixed list of charts.
type StaticSource []Chart

// Charts validates and returns the static charts.
func (s StaticSource) Charts(_ context.Context) ([]Chart, error) {
	charts := make([]Chart, 0, len(s))
	for _, chart := range s {
		chart.Jurisdiction = NormalizeJurisdiction(chart.Jurisdiction)
		if err := chart.Validate(); err != nil {
			return nil, err
		}
		charts = append(charts, chart)
	}
	return charts, nil
}
