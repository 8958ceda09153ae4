package bootstrap

import (
	"github.com/shinji-kodama/corpusprep/internal/config"
	"github.com/shinji-kodama/corpusprep/internal/model"
)

// PlannedStep is the display form of a Step.
type PlannedStep struct {
	Name        model.StepName `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Commands    []string       `json:"commands" yaml:"commands"`
}

// Plan returns the steps a run with cfg would execute, without running
// anything. sandboxed drops sudo and forces the POSIX venv layout; paths are
// always shown as host paths.
func Plan(cfg *config.Config, sandboxed bool) ([]PlannedStep, error) {
	steps, err := Steps(cfg, Deps{Sandboxed: sandboxed})
	if err != nil {
		return nil, err
	}

	planned := make([]PlannedStep, 0, len(steps))
	for _, s := range steps {
		planned = append(planned, PlannedStep{
			Name:        s.Name,
			Description: s.Description,
			Commands:    s.Commands,
		})
	}
	return planned, nil
}
