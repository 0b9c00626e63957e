package engine

import (
	"drpactor/internal/model"
	"drpactor/pkg/ingest"
	"drpactor/pkg/logger"
)

// copyDesign copies a pfsConfig file into the configured pfsConfig directory.
// The copy runs off the loop; Run waits for pending copies before returning.
func (e *Engine) copyDesign(cfg *model.PfsConfig) {
	if e.repo.PfsConfigDir == "" {
		logger.WarnCtx(e.ctx, "no pfsConfig directory configured, not copying %s", cfg.Filepath)
		return
	}
	ctx, src, dir, visit := e.ctx, cfg.Filepath, e.repo.PfsConfigDir, cfg.Visit
	e.copies.Add(1)
	go func() {
		defer e.copies.Done()
		dst, err := ingest.CopyFile(src, dir)
		if err != nil {
			logger.WarnCtx(ctx, "could not copy design of visit %d: %v", visit, err)
			return
		}
		logger.InfoCtx(ctx, "copied %s to %s", src, dst)
	}()
}
