package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobKind kind of dispatched work
type JobKind string

const (
	JobIngest  JobKind = "ingest"
	JobDetrend JobKind = "detrend"
	JobReduce  JobKind = "reduce"
	JobExtract JobKind = "extract"
	JobQa      JobKind = "qa"
)

func (k JobKind) String() string {
	return string(k)
}

// CalibBundle calibration product locations for one channel, resolved by
// the orchestrator before dispatch.
type CalibBundle struct {
	Defects string `json:"defects,omitempty"`
	Flat    string `json:"flat,omitempty"`
	IPC     string `json:"ipc,omitempty"`
}

// Empty reports whether nothing could be resolved.
func (c CalibBundle) Empty() bool {
	return c.Defects == "" && c.Flat == "" && c.IPC == ""
}

// ExposureRef self-contained description of one exposure for a worker
type ExposureRef struct {
	DataID   DataID      `json:"data_id"`
	Path     string      `json:"path"`
	Windowed bool        `json:"windowed"`
	Calib    CalibBundle `json:"calib"`
}

// WorkItem unit of work handed to the executor. It carries values only, the
// worker never sees engine state.
type WorkItem struct {
	ID          string        `json:"id"`
	Kind        JobKind       `json:"kind"`
	Target      string        `json:"target"` // record key the item is bound to
	SubmittedAt time.Time     `json:"submitted_at"`
	Pipeline    string        `json:"pipeline,omitempty"`
	Where       string        `json:"where,omitempty"`
	Product     string        `json:"product,omitempty"` // dataset type the job is expected to produce
	Exposures   []ExposureRef `json:"exposures,omitempty"`
	Paths       []string      `json:"paths,omitempty"` // ingest batch
	NumProc     int           `json:"num_proc,omitempty"`
	TaskThreads int           `json:"task_threads,omitempty"`
	FailFast    bool          `json:"fail_fast,omitempty"`
}

// NewWorkItem creates a work item with a fresh id.
func NewWorkItem(kind JobKind, target string) *WorkItem {
	return &WorkItem{
		ID:     uuid.New().String(),
		Kind:   kind,
		Target: target,
	}
}

// InflightKey deduplication key, one outstanding item per (target, kind).
func (w *WorkItem) InflightKey() string {
	return InflightKey(w.Target, w.Kind)
}

// InflightKey builds the deduplication key of a (record, kind) pair.
func InflightKey(target string, kind JobKind) string {
	return fmt.Sprintf("%s/%s", target, kind)
}

// JobResult process-level outcome reported by a worker
type JobResult struct {
	ItemID     string          `json:"item_id"`
	ReturnCode int             `json:"return_code"`
	Status     ProcessStatus   `json:"status"`
	Elapsed    float64         `json:"elapsed"` // seconds
	Bytes      int64           `json:"bytes,omitempty"`
	Error      string          `json:"error,omitempty"`
	Fluxes     map[int]float64 `json:"fluxes,omitempty"` // per fiber, extract jobs only
	Metadata   map[string]int  `json:"metadata,omitempty"`
}

// Failed builds the result of a job that could not run.
func Failed(item *WorkItem, err error) JobResult {
	return JobResult{
		ItemID:     item.ID,
		ReturnCode: -1,
		Status:     StatusFailed,
		Error:      err.Error(),
	}
}
