package model

import (
	"fmt"
	"time"
)

// ProcessStatus OK or FAILED
type ProcessStatus string

const (
	StatusOK     ProcessStatus = "OK"
	StatusFailed ProcessStatus = "FAILED"
)

// Stage status keyword prefixes
const (
	StageIngest        = "ingest"
	StageDetrend       = "detrend"
	StageReduce        = "reduce"
	StageDetectorMapQa = "detectorMapQa"
	StageExtractionQa  = "extractionQa"
	StageDotRoach      = "dotRoach"
)

// StatusLine audit record emitted for every orchestrated action
type StatusLine struct {
	Stage      string        `json:"stage"`
	Visit      int           `json:"visit"`
	ReturnCode int           `json:"return_code"`
	Status     ProcessStatus `json:"status"`
	Elapsed    float64       `json:"elapsed"`              // seconds
	Throughput *float64      `json:"throughput,omitempty"` // MB/s, ingest only
	Text       string        `json:"text,omitempty"`
	EmittedAt  time.Time     `json:"emitted_at"`
}

// Keyword renders the line as {stage}Status=visit,rc,OK|FAILED,elapsed[,throughput].
func (s StatusLine) Keyword() string {
	out := fmt.Sprintf("%sStatus=%d,%d,%s,%.1f", s.Stage, s.Visit, s.ReturnCode, s.Status, s.Elapsed)
	if s.Throughput != nil {
		out += fmt.Sprintf(",%.1f", *s.Throughput)
	}
	return out
}

// OK reports whether the action succeeded.
func (s StatusLine) OK() bool {
	return s.Status == StatusOK
}

// Throughput MB/s helper, nil when elapsed is zero.
func Throughput(bytes int64, elapsed float64) *float64 {
	if elapsed <= 0 {
		return nil
	}
	mbps := float64(bytes) / (1024 * 1024) / elapsed
	return &mbps
}
