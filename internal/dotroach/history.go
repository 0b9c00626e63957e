package dotroach

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
)

var historyHeader = []string{
	"nIter", "visit", "cobraId", "fiberId", "flux", "fluxNorm",
	"ratio", "gradient", "keepMoving", "overshoot", "phase",
}

// Entry one actuator in one round. Flux is NaN when the fiber was not measured.
type Entry struct {
	Round      int
	Visit      int
	CobraID    int
	FiberID    int
	Flux       float64
	FluxNorm   float64
	Ratio      float64
	Gradient   float64
	KeepMoving bool
	Overshoot  bool
	Phase      Phase
}

// History append-only round log. Every round holds one entry per actuator,
// in mask order.
type History struct {
	rounds [][]Entry
}

// Len number of recorded rounds
func (h *History) Len() int {
	return len(h.rounds)
}

func (h *History) Append(round []Entry) {
	h.rounds = append(h.rounds, round)
}

// Last returns the latest round, nil when empty.
func (h *History) Last() []Entry {
	if len(h.rounds) == 0 {
		return nil
	}
	return h.rounds[len(h.rounds)-1]
}

// Series normalized flux of actuator i across every recorded round.
func (h *History) Series(i int) []float64 {
	out := make([]float64, 0, len(h.rounds)+1)
	for _, round := range h.rounds {
		out = append(out, round[i].FluxNorm)
	}
	return out
}

// MinVisit smallest visit recorded, 0 when empty.
func (h *History) MinVisit() int {
	lowest := 0
	for _, round := range h.rounds {
		if len(round) == 0 {
			continue
		}
		if lowest == 0 || round[0].Visit < lowest {
			lowest = round[0].Visit
		}
	}
	return lowest
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Save rewrites the whole history file.
func (h *History) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create history: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(historyHeader); err != nil {
		return err
	}
	for _, round := range h.rounds {
		for _, e := range round {
			err := w.Write([]string{
				strconv.Itoa(e.Round),
				strconv.Itoa(e.Visit),
				strconv.Itoa(e.CobraID),
				strconv.Itoa(e.FiberID),
				formatFloat(e.Flux),
				formatFloat(e.FluxNorm),
				formatFloat(e.Ratio),
				formatFloat(e.Gradient),
				strconv.FormatBool(e.KeepMoving),
				strconv.FormatBool(e.Overshoot),
				e.Phase.String(),
			})
			if err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}

// LoadHistory reads a history file written by Save.
func LoadHistory(path string) (*History, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(historyHeader)
	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return &History{}, nil
		}
		return nil, fmt.Errorf("failed to read history header: %w", err)
	}

	h := &History{}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read history: %w", err)
		}
		e, err := parseEntry(rec)
		if err != nil {
			return nil, err
		}
		for len(h.rounds) <= e.Round {
			h.rounds = append(h.rounds, nil)
		}
		h.rounds[e.Round] = append(h.rounds[e.Round], e)
	}
	return h, nil
}

func parseEntry(rec []string) (Entry, error) {
	ints := make([]int, 4)
	for i := range ints {
		v, err := strconv.Atoi(rec[i])
		if err != nil {
			return Entry{}, fmt.Errorf("invalid history row %v: %w", rec, err)
		}
		ints[i] = v
	}
	floats := make([]float64, 4)
	for i := range floats {
		v, err := strconv.ParseFloat(rec[4+i], 64)
		if err != nil {
			v = math.NaN()
		}
		floats[i] = v
	}
	keep, _ := strconv.ParseBool(rec[8])
	overshoot, _ := strconv.ParseBool(rec[9])
	return Entry{
		Round:      ints[0],
		Visit:      ints[1],
		CobraID:    ints[2],
		FiberID:    ints[3],
		Flux:       floats[0],
		FluxNorm:   floats[1],
		Ratio:      floats[2],
		Gradient:   floats[3],
		KeepMoving: keep,
		Overshoot:  overshoot,
		Phase:      ParsePhase(rec[10]),
	}, nil
}
