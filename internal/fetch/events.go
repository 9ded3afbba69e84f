package fetch

import (
	"wasmtoolchain/internal/registry"
	"wasmtoolchain/internal/source"
)

// Stage is a step of a single fetch, reported through Options.Progress.
type Stage string

const (
	StageResolving   Stage = "resolving"
	StageDownloading Stage = "downloading"
	StageVerifying   Stage = "verifying"
	StageExtracting  Stage = "extracting"
	StageInstalled   Stage = "installed"
	StageCached      Stage = "cached"
	StageFailed      Stage = "failed"
)

// Done reports whether the stage is terminal.
func (s Stage) Done() bool {
	return s == StageInstalled || s == StageCached || s == StageFailed
}

// Event is a progress notification. Progress callbacks may be invoked from
// several goroutines at once.
type Event struct {
	Identity registry.ToolIdentity
	Stage    Stage
	Origin   source.Origin
	Attempt  int
	Bytes    int64
	Total    int64
	Err      error
}
