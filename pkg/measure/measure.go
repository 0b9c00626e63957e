package measure

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"drpactor/internal/model"
	"drpactor/pkg/config"
	"drpactor/pkg/drpcmd"
)

// CommandMeasurer runs the flux extraction program over a set of exposures.
// The program prints one "fiberId,flux" line per fiber.
type CommandMeasurer struct {
	program string
	repo    config.RepoConfig
	runner  *drpcmd.Runner
}

// NewCommandMeasurer creates the measurer
func NewCommandMeasurer(program string, repo config.RepoConfig, runner *drpcmd.Runner) *CommandMeasurer {
	return &CommandMeasurer{program: program, repo: repo, runner: runner}
}

// Measure returns the flux per fiber summed over every exposure.
func (m *CommandMeasurer) Measure(ctx context.Context, exposures []model.ExposureRef) (map[int]float64, error) {
	if len(exposures) == 0 {
		return nil, fmt.Errorf("no exposure to measure")
	}

	fluxes := make(map[int]float64)
	for _, exp := range exposures {
		cmd := &drpcmd.Command{
			Head:   m.program,
			Target: m.repo.Root,
			Args: []string{
				"--collections", m.repo.Rerun + "," + m.repo.Calib,
				"--visit", strconv.Itoa(exp.DataID.Visit),
				"--arm", exp.DataID.Arm,
				"--spectrograph", strconv.Itoa(exp.DataID.Spectrograph),
			},
		}
		res := m.runner.Run(ctx, cmd)
		if err := res.Err(cmd); err != nil {
			return nil, fmt.Errorf("failed to measure %s: %w", exp.DataID, err)
		}
		perFiber, err := ParseFluxes(res.Output)
		if err != nil {
			return nil, fmt.Errorf("failed to parse fluxes of %s: %w", exp.DataID, err)
		}
		for fiber, flux := range perFiber {
			fluxes[fiber] += flux
		}
	}
	return fluxes, nil
}

// ParseFluxes reads "fiberId,flux" lines, skipping a header and log lines.
func ParseFluxes(lines []string) (map[int]float64, error) {
	out := make(map[int]float64)
	for _, line := range lines {
		fields := strings.Split(line, ",")
		if len(fields) != 2 {
			continue
		}
		fiber, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			continue
		}
		flux, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid flux for fiber %d: %w", fiber, err)
		}
		out[fiber] = flux
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no flux reported")
	}
	return out, nil
}
