package preflight

import (
	"context"

	"clipforge/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the preflight checks that apply to cfg.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Upload directory", cfg.Paths.UploadDir),
		CheckDirectoryAccess("Transcription directory", cfg.Paths.TranscriptionDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if results[0].Passed {
		results = append(results, CheckFreeSpace("Work disk", cfg.Paths.WorkDir, cfg.Workflow.MinFreeDisk))
	}
	if cfg.GPU.LockBackend == config.LockBackendRedis {
		results = append(results, CheckRedis(ctx, cfg.GPU))
	}
	for _, status := range CheckSystemDeps(cfg) {
		detail := status.Path
		if !status.Available {
			detail = status.Detail
		}
		results = append(results, Result{
			Name:   status.Name,
			Passed: status.Available || status.Optional,
			Detail: detail,
		})
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, result := range results {
		if !result.Passed {
			out = append(out, result)
		}
	}
	return out
}
