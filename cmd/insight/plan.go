package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Rigel0718/transcript-insight/internal/types"
)

// loadPlan reads a metric plan from YAML or JSON and validates it.
func loadPlan(path string) (*types.MetricPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}

	plan := &types.MetricPlan{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, plan)
	default:
		err = yaml.Unmarshal(data, plan)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse plan %s: %w", path, err)
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan %s: %w", path, err)
	}
	return plan, nil
}

func metricIDs(plan *types.MetricPlan) []string {
	ids := make([]string, len(plan.Metrics))
	for i, m := range plan.Metrics {
		ids[i] = m.ID
	}
	return ids
}
