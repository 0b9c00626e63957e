package ingest

import (
	"context"
	"fmt"

	"drpactor/pkg/config"
	"drpactor/pkg/drpcmd"
	"drpactor/pkg/logger"
)

// ButlerIngester ingests raw files and pfsConfig files with the butler CLI
type ButlerIngester struct {
	butler string
	repo   config.RepoConfig
	runner *drpcmd.Runner
}

// NewButlerIngester creates the ingestion backend
func NewButlerIngester(butler string, repo config.RepoConfig, runner *drpcmd.Runner) *ButlerIngester {
	return &ButlerIngester{butler: butler, repo: repo, runner: runner}
}

// Ingest registers raw exposures and pfsConfig files in one call per kind.
// Already registered files are skipped by the backend.
func (b *ButlerIngester) Ingest(ctx context.Context, paths []string, mode string) error {
	var raws, configs []string
	for _, p := range paths {
		if IsPfsConfigPath(p) {
			configs = append(configs, p)
		} else {
			raws = append(raws, p)
		}
	}

	if len(raws) > 0 {
		cmd := &drpcmd.Command{
			Head:   b.butler,
			Target: "ingest-raws",
			Args: append([]string{
				b.repo.Root,
				"--transfer", mode,
				"--output-run", b.repo.RawCollection,
				"--fail-fast",
			}, raws...),
		}
		if err := b.runner.Run(ctx, cmd).Err(cmd); err != nil {
			return fmt.Errorf("failed to ingest %d raw files: %w", len(raws), err)
		}
	}

	if len(configs) > 0 {
		cmd := &drpcmd.Command{
			Head:   b.butler,
			Target: "ingest-pfsConfig",
			Args: append([]string{
				b.repo.Root,
				b.repo.Instrument,
				b.repo.RawCollection,
				"--transfer", mode,
			}, configs...),
		}
		if err := b.runner.Run(ctx, cmd).Err(cmd); err != nil {
			return fmt.Errorf("failed to ingest %d pfsConfig files: %w", len(configs), err)
		}
	}
	return nil
}

// ExtendChain appends the raw run to the configured chained collection.
func (b *ButlerIngester) ExtendChain(ctx context.Context) error {
	if b.repo.Chain == "" {
		return nil
	}
	cmd := &drpcmd.Command{
		Head:   b.butler,
		Target: "collection-chain",
		Args:   []string{b.repo.Root, b.repo.Chain, b.repo.RawCollection, "--mode", "extend"},
	}
	if err := b.runner.Run(ctx, cmd).Err(cmd); err != nil {
		return fmt.Errorf("failed to extend collection chain %s: %w", b.repo.Chain, err)
	}
	logger.InfoCtx(ctx, "successfully added %s to %s", b.repo.RawCollection, b.repo.Chain)
	return nil
}
