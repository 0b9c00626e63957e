package dotroach

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Mask file columns the loop relies on. Any other column is carried through
// to the snapshots untouched.
const (
	colCobraID = "cobraId"
	colFiberID = "fiberId"
	colBitMask = "bitMask"
)

// Actuator one row of the mask file. BitMask 1 means enabled, 0 means at
// home (disabled and broken actuators are homed too).
type Actuator struct {
	CobraID int
	FiberID int
	BitMask int

	record []string
}

// Mask immutable actuator table, sorted by cobra id
type Mask struct {
	header    []string
	bitCol    int
	Actuators []Actuator
}

// LoadMask reads a mask file.
func LoadMask(path string) (*Mask, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mask file: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read mask file %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("mask file %s has no actuator", path)
	}

	header := records[0]
	cols := map[string]int{colCobraID: -1, colFiberID: -1, colBitMask: -1}
	for i, name := range header {
		if _, ok := cols[name]; ok {
			cols[name] = i
		}
	}
	for name, i := range cols {
		if i < 0 {
			return nil, fmt.Errorf("mask file %s is missing column %s", path, name)
		}
	}

	m := &Mask{header: header, bitCol: cols[colBitMask]}
	for line, rec := range records[1:] {
		cobra, err1 := strconv.Atoi(rec[cols[colCobraID]])
		fiber, err2 := strconv.Atoi(rec[cols[colFiberID]])
		bit, err3 := strconv.Atoi(rec[cols[colBitMask]])
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, fmt.Errorf("mask file %s: invalid row %d", path, line+2)
		}
		m.Actuators = append(m.Actuators, Actuator{CobraID: cobra, FiberID: fiber, BitMask: bit, record: rec})
	}
	sort.Slice(m.Actuators, func(i, j int) bool { return m.Actuators[i].CobraID < m.Actuators[j].CobraID })
	return m, nil
}

// Len number of actuators
func (m *Mask) Len() int {
	return len(m.Actuators)
}

// Enabled returns the mask bits as booleans.
func (m *Mask) Enabled() []bool {
	out := make([]bool, len(m.Actuators))
	for i, a := range m.Actuators {
		out[i] = a.BitMask != 0
	}
	return out
}

// MonitoringFibers fibers of the actuators at home. Their flux only depends
// on the lamp and serves as normalization reference.
func (m *Mask) MonitoringFibers() map[int]bool {
	out := make(map[int]bool)
	for _, a := range m.Actuators {
		if a.BitMask == 0 {
			out[a.FiberID] = true
		}
	}
	return out
}

// WriteSnapshot writes a copy of the mask with bitMask replaced by moving.
// The file is renamed into place so readers never see a partial snapshot.
func (m *Mask) WriteSnapshot(path string, moving []bool) error {
	if len(moving) != len(m.Actuators) {
		return fmt.Errorf("snapshot has %d flags for %d actuators", len(moving), len(m.Actuators))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".mask-*")
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(m.header); err != nil {
		tmp.Close()
		return err
	}
	for i, a := range m.Actuators {
		rec := append([]string(nil), a.record...)
		rec[m.bitCol] = "0"
		if moving[i] {
			rec[m.bitCol] = "1"
		}
		if err := w.Write(rec); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
