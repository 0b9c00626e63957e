package ingest

import (
	"context"
	"fmt"
	"strings"

	"drpactor/internal/model"
	"drpactor/pkg/drpcmd"
)

// Locate asks the butler whether datasetType exists for id in collection.
func (b *ButlerIngester) Locate(ctx context.Context, datasetType, collection string, id model.DataID) (bool, error) {
	cmd := &drpcmd.Command{
		Head:   b.butler,
		Target: "query-datasets",
		Args: []string{
			b.repo.Root, datasetType,
			"--collections", collection,
			"--where", id.Where(),
			"--find-first",
		},
	}
	res := b.runner.Run(ctx, cmd)
	if err := res.Err(cmd); err != nil {
		return false, fmt.Errorf("failed to query %s %s: %w", datasetType, id, err)
	}
	return hasDatasetRows(res.Output), nil
}

// hasDatasetRows reports whether a query-datasets table has rows below its
// dashed header separator.
func hasDatasetRows(lines []string) bool {
	seenSeparator := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.Trim(trimmed, "- ") == "" {
			seenSeparator = true
			continue
		}
		if seenSeparator {
			return true
		}
	}
	return false
}
