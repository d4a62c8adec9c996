package scheduler

import (
	"fmt"
	"time"
)

// Stage is one segment of the ramp profile: reach Target VUs over Duration.
type Stage struct {
	Duration time.Duration
	Target   int
	Name     string
}

// ValidateStages checks the ramp profile.
func ValidateStages(stages []Stage) error {
	if len(stages) == 0 {
		return fmt.Errorf("at least one stage is required")
	}
	for i, st := range stages {
		if st.Duration <= 0 {
			return fmt.Errorf("stage %d: duration must be positive, got %s", i, st.Duration)
		}
		if st.Target < 0 {
			return fmt.Errorf("stage %d: target must not be negative, got %d", i, st.Target)
		}
	}
	return nil
}

// TotalDuration is the sum of all stage durations.
func TotalDuration(stages []Stage) time.Duration {
	var total time.Duration
	for _, st := range stages {
		total += st.Duration
	}
	return total
}

// StageAt returns the index of the stage active at elapsed, or len(stages)
// once every stage has finished.
func StageAt(stages []Stage, elapsed time.Duration) int {
	var end time.Duration
	for i, st := range stages {
		end += st.Duration
		if elapsed < end {
			return i
		}
	}
	return len(stages)
}

// TargetAt returns the desired VU count at elapsed.
//
// Within a stage the count moves linearly from the previous stage's target
// (0 before the first stage) to the stage's own target and is rounded to the
// nearest integer. After the last stage its target holds.
func TargetAt(stages []Stage, elapsed time.Duration) int {
	if len(stages) == 0 {
		return 0
	}
	if elapsed < 0 {
		elapsed = 0
	}

	prev := 0
	var start time.Duration
	for _, st := range stages {
		end := start + st.Duration
		if elapsed < end {
			progress := float64(elapsed-start) / float64(st.Duration)
			return int(float64(prev) + float64(st.Target-prev)*progress + 0.5)
		}
		prev = st.Target
		start = end
	}
	return stages[len(stages)-1].Target
}
