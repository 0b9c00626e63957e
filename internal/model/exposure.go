package model

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNotIngested guards the reduced-product invariant.
var ErrNotIngested = errors.New("exposure not ingested")

// armFromNum maps the arm digit of a raw filename to the arm name.
var armFromNum = map[int]string{1: "b", 2: "r", 3: "n", 4: "m"}

// Window keywords written by the detector controller
const (
	headerWindowRow0 = "W_CDROW0"
	headerWindowRowN = "W_CDROWN"
	headerNaxis2     = "NAXIS2"
)

// Exposure one raw frame from one channel
type Exposure struct {
	Lifecycle
	DataID

	Root     string `json:"root"`
	Night    string `json:"night"`
	Filename string `json:"filename"`

	Ingested          bool        `json:"ingested"`
	Windowed          bool        `json:"windowed"`
	ReducedProductRef *DatasetRef `json:"reduced_product_ref,omitempty"`
}

// NewExposure parses a raw filename of the form PFSA{visit:06d}{spectrograph}{arm}.fits.
func NewExposure(root, night, filename string) (*Exposure, error) {
	id, err := ParseRawFilename(filename)
	if err != nil {
		return nil, err
	}
	return &Exposure{
		Lifecycle: Lifecycle{State: StateUnknown},
		DataID:    id,
		Root:      root,
		Night:     night,
		Filename:  filename,
	}, nil
}

// ExposureFromPath splits root/night/sps/filename, the layout used by the
// NIR channels which report full paths.
func ExposureFromPath(path string) (*Exposure, error) {
	dir, filename := filepath.Split(filepath.Clean(path))
	dir = filepath.Clean(dir)
	if filepath.Base(dir) != "sps" {
		return nil, fmt.Errorf("unexpected raw path layout: %s", path)
	}
	nightDir := filepath.Dir(dir)
	return NewExposure(filepath.Dir(nightDir), filepath.Base(nightDir), filename)
}

// ParseRawFilename extracts the identity tuple from a raw filename.
func ParseRawFilename(filename string) (DataID, error) {
	if len(filename) < 12 || !strings.HasPrefix(filename, "PFSA") || !strings.HasSuffix(filename, ".fits") {
		return DataID{}, fmt.Errorf("not a raw exposure filename: %q", filename)
	}
	visit, err := strconv.Atoi(filename[4:10])
	if err != nil {
		return DataID{}, fmt.Errorf("invalid visit in %q: %w", filename, err)
	}
	spec, err := strconv.Atoi(filename[10:11])
	if err != nil {
		return DataID{}, fmt.Errorf("invalid spectrograph in %q: %w", filename, err)
	}
	armNum, err := strconv.Atoi(filename[11:12])
	if err != nil {
		return DataID{}, fmt.Errorf("invalid arm in %q: %w", filename, err)
	}
	arm, ok := armFromNum[armNum]
	if !ok {
		return DataID{}, fmt.Errorf("unknown arm number %d in %q", armNum, filename)
	}
	return DataID{Visit: visit, Arm: arm, Spectrograph: spec}, nil
}

// Filepath returns root/night/sps/filename.
func (e *Exposure) Filepath() string {
	return filepath.Join(e.Root, e.Night, "sps", e.Filename)
}

// Key identifies the exposure within the engine.
func (e *Exposure) Key() string {
	return fmt.Sprintf("%06d%s", e.Visit, e.Camera())
}

// Initialize refreshes Ingested from the datastore. A failed query counts as
// not ingested and is retried on the next check.
func (e *Exposure) Initialize(ctx context.Context, ds DatasetQuerier) {
	if e.Ingested {
		return
	}
	exists, err := ds.Exists(ctx, DatasetRaw, e.DataID)
	if err != nil || !exists {
		return
	}
	e.Ingested = true

	ref, err := ds.Get(ctx, DatasetRaw, e.DataID)
	if err == nil && ref != nil {
		e.Windowed = IsWindowed(ref.Metadata)
	}
}

// SetReducedProduct records the reduction product. Only valid once ingested.
func (e *Exposure) SetReducedProduct(ref *DatasetRef) error {
	if !e.Ingested {
		return fmt.Errorf("%w: %s", ErrNotIngested, e.DataID)
	}
	e.ReducedProductRef = ref
	return nil
}

// IsWindowed reports whether the raw header describes a row window narrower
// than the full frame.
func IsWindowed(md map[string]int) bool {
	row0, ok0 := md[headerWindowRow0]
	rowN, okN := md[headerWindowRowN]
	naxis2, okAxis := md[headerNaxis2]
	if !ok0 || !okN || !okAxis {
		return false
	}
	return rowN-row0+1 < naxis2
}

// WindowKeywords lists the header keywords IsWindowed consumes.
func WindowKeywords() []string {
	return []string{headerWindowRow0, headerWindowRowN, headerNaxis2}
}
