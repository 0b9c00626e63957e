// Package model provides property-based tests for visit aggregation.
package model

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// fakeQuerier answers Exists from a set of registered dataset keys.
type fakeQuerier struct {
	registered map[string]bool
	fail       bool
}

func datasetKey(datasetType string, id DataID) string {
	return fmt.Sprintf("%s/%s", datasetType, id)
}

func (f *fakeQuerier) Exists(_ context.Context, datasetType string, id DataID) (bool, error) {
	if f.fail {
		return false, fmt.Errorf("datastore unreachable")
	}
	return f.registered[datasetKey(datasetType, id)], nil
}

func (f *fakeQuerier) Get(_ context.Context, datasetType string, id DataID) (*DatasetRef, error) {
	if !f.registered[datasetKey(datasetType, id)] {
		return nil, nil
	}
	return &DatasetRef{DatasetType: datasetType, DataID: id}, nil
}

func channels(n int) []DataID {
	arms := []string{"b", "r", "n", "m"}
	ids := make([]DataID, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, DataID{Visit: 100, Arm: arms[i%4], Spectrograph: i/4 + 1})
	}
	return ids
}

func buildVisit(ids []DataID) *Visit {
	v := NewVisit(100, NewPfsConfig(100, "/data/pfsConfig-0x1-000100.fits"))
	for _, id := range ids {
		v.AddExposure(&Exposure{DataID: id})
	}
	return v
}

// ============================================================================
// Property 1: All-or-nothing ingestion completeness
// ============================================================================

func TestProperty_IngestedIffEveryMemberIngested(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("aggregate ingested iff config and all exposures ingested", prop.ForAll(
		func(flags []bool, configIngested bool) bool {
			v := buildVisit(channels(len(flags)))
			v.Config.Ingested = configIngested
			all := configIngested
			for i, f := range flags {
				v.Exposures[i].Ingested = f
				all = all && f
			}
			return v.IsIngested() == all
		},
		gen.SliceOfN(8, gen.Bool()).SuchThat(func(s []bool) bool { return len(s) > 0 }),
		gen.Bool(),
	))

	properties.Property("flipping any single member back un-ingests the aggregate", prop.ForAll(
		func(n int, flip int) bool {
			v := buildVisit(channels(n))
			v.Config.Ingested = true
			for _, exp := range v.Exposures {
				exp.Ingested = true
			}
			if !v.IsIngested() {
				return false
			}
			idx := flip % (n + 1)
			if idx == n {
				v.Config.Ingested = false
			} else {
				v.Exposures[idx].Ingested = false
			}
			return !v.IsIngested()
		},
		gen.IntRange(1, 16),
		gen.IntRange(0, 100),
	))

	properties.Property("a visit without exposures is never ingested", prop.ForAll(
		func(configIngested bool) bool {
			v := NewVisit(7, nil)
			v.Config.Ingested = configIngested
			return !v.IsIngested()
		},
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// ============================================================================
// Property 2: Order independence of notifications
// ============================================================================

// deliver replays notifications in order: index -1 is the config, others exposures.
func deliver(order []int, ids []DataID) map[int]*Visit {
	table := map[int]*Visit{}
	for _, idx := range order {
		if idx < 0 {
			if v, ok := table[100]; ok {
				v.Config = NewPfsConfig(100, "/data/pfsConfig.fits")
			} else {
				table[100] = NewVisit(100, NewPfsConfig(100, "/data/pfsConfig.fits"))
			}
			continue
		}
		v, ok := table[100]
		if !ok {
			v = NewVisit(100, nil)
			table[100] = v
		}
		v.AddExposure(&Exposure{DataID: ids[idx]})
	}
	return table
}

func TestProperty_OrderIndependence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("any interleaving yields the same aggregate", prop.ForAll(
		func(n int, seed int64) bool {
			ids := channels(n)
			canonical := []int{-1}
			for i := 0; i < n; i++ {
				canonical = append(canonical, i)
			}
			shuffled := append([]int(nil), canonical...)
			rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})

			a := deliver(canonical, ids)[100]
			b := deliver(shuffled, ids)[100]

			registered := map[string]bool{datasetKey(DatasetPfsConfig, DataID{Visit: 100}): true}
			for _, id := range ids {
				registered[datasetKey(DatasetRaw, id)] = true
			}
			q := &fakeQuerier{registered: registered}
			a.Initialize(context.Background(), q)
			b.Initialize(context.Background(), q)

			if a.Config.Filepath != b.Config.Filepath || len(a.Exposures) != len(b.Exposures) {
				return false
			}
			for _, id := range ids {
				if a.Exposure(id.Arm, id.Spectrograph) == nil || b.Exposure(id.Arm, id.Spectrograph) == nil {
					return false
				}
			}
			return a.IsIngested() && b.IsIngested()
		},
		gen.IntRange(1, 12),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// ============================================================================
// Property 3: Orphan exposures create an aggregate that is not ingested
// ============================================================================

func TestProperty_OrphanExposure(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("exposure before config creates a placeholder visit", prop.ForAll(
		func(n int) bool {
			ids := channels(n)
			order := make([]int, n)
			for i := range order {
				order[i] = i
			}
			v := deliver(order, ids)[100]

			registered := map[string]bool{}
			for _, id := range ids {
				registered[datasetKey(DatasetRaw, id)] = true
			}
			v.Initialize(context.Background(), &fakeQuerier{registered: registered})

			return v != nil && !v.Config.Resolved() && !v.IsIngested()
		},
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}
