package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRawFilename(t *testing.T) {
	tests := []struct {
		filename string
		want     DataID
		wantErr  bool
	}{
		{"PFSA00010011.fits", DataID{Visit: 100, Arm: "b", Spectrograph: 1}, false},
		{"PFSA12345642.fits", DataID{Visit: 123456, Arm: "r", Spectrograph: 4}, false},
		{"PFSA00010023.fits", DataID{Visit: 100, Arm: "n", Spectrograph: 2}, false},
		{"PFSA00010034.fits", DataID{Visit: 100, Arm: "m", Spectrograph: 3}, false},
		{"PFSA00010015.fits", DataID{}, true},
		{"PFSB00010011.fits", DataID{}, true},
		{"PFSA0001001.fits", DataID{}, true},
		{"PFSA00010011.txt", DataID{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, err := ParseRawFilename(tt.filename)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExposureFromPath(t *testing.T) {
	exp, err := ExposureFromPath("/data/raw/2024-05-01/sps/PFSA00010013.fits")
	require.NoError(t, err)
	assert.Equal(t, "/data/raw", exp.Root)
	assert.Equal(t, "2024-05-01", exp.Night)
	assert.Equal(t, "/data/raw/2024-05-01/sps/PFSA00010013.fits", exp.Filepath())
	assert.Equal(t, "n1", exp.Camera())
	assert.Equal(t, "000100n1", exp.Key())

	_, err = ExposureFromPath("/data/raw/2024-05-01/PFSA00010013.fits")
	assert.Error(t, err)
}

func TestExposureInitialize(t *testing.T) {
	exp, err := NewExposure("/data/raw", "2024-05-01", "PFSA00010011.fits")
	require.NoError(t, err)

	q := &fakeQuerier{fail: true, registered: map[string]bool{}}
	exp.Initialize(context.Background(), q)
	assert.False(t, exp.Ingested, "query failure counts as not ingested")

	q.fail = false
	q.registered[datasetKey(DatasetRaw, exp.DataID)] = true
	exp.Initialize(context.Background(), q)
	assert.True(t, exp.Ingested)

	// idempotent
	q.fail = true
	exp.Initialize(context.Background(), q)
	assert.True(t, exp.Ingested)
}

func TestSetReducedProduct(t *testing.T) {
	exp := &Exposure{DataID: DataID{Visit: 1, Arm: "b", Spectrograph: 1}}
	err := exp.SetReducedProduct(&DatasetRef{DatasetType: DatasetPfsArm})
	assert.True(t, errors.Is(err, ErrNotIngested))
	assert.Nil(t, exp.ReducedProductRef)

	exp.Ingested = true
	require.NoError(t, exp.SetReducedProduct(&DatasetRef{DatasetType: DatasetPfsArm}))
	assert.NotNil(t, exp.ReducedProductRef)
}

func TestIsWindowed(t *testing.T) {
	assert.False(t, IsWindowed(nil))
	assert.False(t, IsWindowed(map[string]int{"W_CDROW0": 0, "W_CDROWN": 4299, "NAXIS2": 4300}))
	assert.True(t, IsWindowed(map[string]int{"W_CDROW0": 1000, "W_CDROWN": 1999, "NAXIS2": 4300}))
}

func TestLifecycleTransitions(t *testing.T) {
	var l Lifecycle
	assert.Equal(t, StateUnknown, l.CurrentState())

	require.NoError(t, l.Transition(StateIngesting))
	require.NoError(t, l.Transition(StateIngesting), "re-entering is a no-op")
	require.NoError(t, l.Transition(StateUnknown), "failed ingest reverts")
	require.NoError(t, l.Transition(StateIngesting))
	require.NoError(t, l.Transition(StateIngested))

	err := l.Transition(StateIdle)
	assert.True(t, errors.Is(err, ErrIllegalTransition))
	assert.Equal(t, StateIngested, l.State, "illegal transition leaves state untouched")

	require.NoError(t, l.Transition(StateReducing))
	require.NoError(t, l.Finish(OutcomeFailed))
	assert.Equal(t, StateIdle, l.State)
	assert.Equal(t, OutcomeFailed, l.Outcome)

	require.NoError(t, l.Transition(StateReducing))
	assert.Equal(t, OutcomeNone, l.Outcome)
}

func TestStatusKeyword(t *testing.T) {
	line := StatusLine{Stage: StageIngest, Visit: 100, ReturnCode: 0, Status: StatusOK, Elapsed: 2.04, Throughput: Throughput(20*1024*1024, 2)}
	assert.Equal(t, "ingestStatus=100,0,OK,2.0,10.0", line.Keyword())

	line = StatusLine{Stage: StageReduce, Visit: 7, ReturnCode: -1, Status: StatusFailed, Elapsed: 10}
	assert.Equal(t, "reduceStatus=7,-1,FAILED,10.0", line.Keyword())
	assert.Nil(t, Throughput(10, 0))
}
