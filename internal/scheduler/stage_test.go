package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTargetAt(t *testing.T) {
	stages := []Stage{
		{Duration: 30 * time.Second, Target: 10},
		{Duration: 30 * time.Second, Target: 0},
	}

	tests := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 0},
		{-time.Second, 0},
		{3 * time.Second, 1},
		{15 * time.Second, 5},
		{29 * time.Second, 10},
		{30 * time.Second, 10},
		{45 * time.Second, 5},
		{59 * time.Second, 0},
		{time.Hour, 0},
	}

	for _, tt := range tests {
		t.Run(tt.elapsed.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, TargetAt(stages, tt.elapsed))
		})
	}
}

func TestTargetAt_Plateau(t *testing.T) {
	stages := []Stage{
		{Duration: time.Minute, Target: 100},
		{Duration: 3 * time.Minute, Target: 100},
		{Duration: time.Minute, Target: 1000},
	}

	assert.Equal(t, 50, TargetAt(stages, 30*time.Second))
	assert.Equal(t, 100, TargetAt(stages, 2*time.Minute))
	assert.Equal(t, 550, TargetAt(stages, 4*time.Minute+30*time.Second))
	assert.Equal(t, 1000, TargetAt(stages, 10*time.Minute))
}

func TestTargetAt_Empty(t *testing.T) {
	assert.Equal(t, 0, TargetAt(nil, time.Second))
}

func TestTargetAt_StaysWithinStageBounds(t *testing.T) {
	stages := []Stage{
		{Duration: 7 * time.Second, Target: 13},
		{Duration: 11 * time.Second, Target: 3},
		{Duration: 5 * time.Second, Target: 20},
	}
	prev := 0
	var start time.Duration
	for _, st := range stages {
		lo, hi := prev, st.Target
		if lo > hi {
			lo, hi = hi, lo
		}
		for e := start; e < start+st.Duration; e += 100 * time.Millisecond {
			got := TargetAt(stages, e)
			assert.GreaterOrEqual(t, got, lo)
			assert.LessOrEqual(t, got, hi)
		}
		prev = st.Target
		start += st.Duration
	}
}

func TestStageAt(t *testing.T) {
	stages := []Stage{
		{Duration: 10 * time.Second, Target: 1},
		{Duration: 10 * time.Second, Target: 2},
	}
	assert.Equal(t, 0, StageAt(stages, 0))
	assert.Equal(t, 0, StageAt(stages, 9*time.Second))
	assert.Equal(t, 1, StageAt(stages, 10*time.Second))
	assert.Equal(t, 2, StageAt(stages, 20*time.Second))
}

func TestTotalDuration(t *testing.T) {
	stages := []Stage{
		{Duration: 3 * time.Minute, Target: 1000},
		{Duration: 30 * time.Second, Target: 0},
	}
	assert.Equal(t, 3*time.Minute+30*time.Second, TotalDuration(stages))
}

func TestValidateStages(t *testing.T) {
	assert.Error(t, ValidateStages(nil))
	assert.Error(t, ValidateStages([]Stage{{Duration: 0, Target: 1}}))
	assert.Error(t, ValidateStages([]Stage{{Duration: time.Second, Target: -1}}))
	assert.NoError(t, ValidateStages([]Stage{{Duration: time.Second, Target: 0}}))
}
