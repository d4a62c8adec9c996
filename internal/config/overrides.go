package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Overrides are command-line values that replace file settings when set.
type Overrides struct {
	Name     string
	Scenario string
	Stages   string
	BaseURL  string
	WSURL    string
	Grace    time.Duration
	DataDir  string
}

// Apply copies every non-zero override into c and re-applies defaults.
func (o Overrides) Apply(c *RunConfig) error {
	if o.Stages != "" {
		stages, err := ParseStages(o.Stages)
		if err != nil {
			return err
		}
		c.Stages = stages
	}
	if o.Scenario != "" {
		if c.Name == c.Scenario {
			c.Name = ""
		}
		c.Scenario = o.Scenario
	}
	if o.Name != "" {
		c.Name = o.Name
	}
	if o.BaseURL != "" {
		c.Settings.BaseURL = o.BaseURL
	}
	if o.WSURL != "" {
		c.Settings.WSURL = o.WSURL
	}
	if o.Grace > 0 {
		c.TotalGraceDuration = Duration(o.Grace)
	}
	if o.DataDir != "" {
		c.Settings.DataDir = o.DataDir
	}
	c.ApplyDefaults()
	return nil
}

// ParseStages reads the "duration:target" list used on the command line,
// e.g. "30s:10,2m:10,30s:0".
func ParseStages(s string) ([]StageConfig, error) {
	var stages []StageConfig

	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		colon := strings.LastIndex(part, ":")
		if colon == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}

		d, err := ParseDuration(part[:colon])
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i+1, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("stage %d: duration must be positive", i+1)
		}

		target, err := strconv.Atoi(strings.TrimSpace(part[colon+1:]))
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s'", i+1, part[colon+1:])
		}
		if target < 0 {
			return nil, fmt.Errorf("stage %d: target cannot be negative", i+1)
		}

		stages = append(stages, StageConfig{
			Duration: Duration(d),
			Target:   target,
			Name:     stageName(len(stages)),
		})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}
	return stages, nil
}

func stageName(i int) string {
	return fmt.Sprintf("stage-%d", i+1)
}
