package dotroach

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"drpactor/pkg/config"

	"github.com/stretchr/testify/require"
)

func fiberOf(cobra int) int {
	return cobra + 1000
}

// writeMask writes a mask with one actuator per bit, cobra ids starting at 1.
func writeMask(t testing.TB, dir string, bits []int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString(",cobraId,fiberId,bitMask,module\n")
	for i := len(bits) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "%d,%d,%d,%d,M%d\n", i, i+1, fiberOf(i+1), bits[i], i/2)
	}
	path := filepath.Join(dir, "mask.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	return path
}

// fluxes builds a measurement, one flux per cobra in mask order.
func fluxes(perCobra ...float64) map[int]float64 {
	out := make(map[int]float64, len(perCobra))
	for i, f := range perCobra {
		out[fiberOf(i+1)] = f
	}
	return out
}

func testConfig() config.DotRoachConfig {
	return config.Default().DotRoach
}

func startRun(t testing.TB, bits []int, keepMoving bool) (*Run, string) {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "current")
	run, err := Start(root, writeMask(t, dir, bits), keepMoving, testConfig())
	require.NoError(t, err)
	return run, root
}
