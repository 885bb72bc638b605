package ui_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/trobanga/siphon/internal/ui"
)

func TestTransferBar_Creation(t *testing.T) {
	bar := ui.NewTransferBar(100, "Pulling study")

	assert.NotNil(t, bar)
	assert.Equal(t, int64(100), bar.GetTotal())
	assert.Equal(t, 0.0, bar.GetPercentage(), "initial percentage should be 0")
}

func TestTransferBar_IndeterminateUntilTotalKnown(t *testing.T) {
	var buf bytes.Buffer
	bar := ui.NewTransferBarWithWriter(0, "Pulling study", &buf)

	// The instance count is unknown until the remote's first pending
	// response, so the bar starts indeterminate.
	assert.Equal(t, int64(-1), bar.GetTotal())

	err := bar.Add(3)
	assert.NoError(t, err)
	assert.Equal(t, 0.0, bar.GetPercentage(), "percentage is undefined while the total is unknown")

	// First pending response reports ten instances in the study.
	bar.SetTotal(10)
	assert.Equal(t, int64(10), bar.GetTotal())
	assert.Equal(t, 30.0, bar.GetPercentage())

	assert.NoError(t, bar.Clear())
}

func TestTransferBar_Add(t *testing.T) {
	var buf bytes.Buffer
	bar := ui.NewTransferBarWithWriter(100, "Test", &buf)

	err := bar.Add(25)
	assert.NoError(t, err)
	assert.Equal(t, 25.0, bar.GetPercentage())

	err = bar.Add(25)
	assert.NoError(t, err)
	assert.Equal(t, 50.0, bar.GetPercentage())

	err = bar.Finish()
	assert.NoError(t, err)
}

func TestTransferBar_Set(t *testing.T) {
	var buf bytes.Buffer
	bar := ui.NewTransferBarWithWriter(200, "Test", &buf)

	err := bar.Set(100)
	assert.NoError(t, err)
	assert.Equal(t, 50.0, bar.GetPercentage())

	err = bar.Set(200)
	assert.NoError(t, err)
	assert.Equal(t, 100.0, bar.GetPercentage())

	err = bar.Finish()
	assert.NoError(t, err)
}

func TestTransferBar_Percentage(t *testing.T) {
	tests := []struct {
		name     string
		total    int64
		current  int64
		expected float64
	}{
		{"0%", 100, 0, 0.0},
		{"25%", 100, 25, 25.0},
		{"50%", 100, 50, 50.0},
		{"100%", 100, 100, 100.0},
		{"UnknownTotal", 0, 0, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			bar := ui.NewTransferBarWithWriter(tt.total, "Test", &buf)

			if tt.current > 0 {
				bar.Set(tt.current)
			}

			assert.Equal(t, tt.expected, bar.GetPercentage())
		})
	}
}

func TestTransferBar_ElapsedTime(t *testing.T) {
	var buf bytes.Buffer
	bar := ui.NewTransferBarWithWriter(100, "Test", &buf)

	elapsed := bar.GetElapsedTime()
	assert.Greater(t, elapsed.Nanoseconds(), int64(0))
}

func TestTransferBar_RapidUpdates(t *testing.T) {
	var buf bytes.Buffer
	bar := ui.NewTransferBarWithWriter(1000, "Test", &buf)

	// Instances can arrive faster than the render throttle; the bar
	// must absorb rapid increments without losing count.
	for i := 0; i < 10; i++ {
		bar.Add(10)
	}

	assert.Equal(t, 10.0, bar.GetPercentage())
	bar.Finish()
}

func TestTransferBar_WritesOutput(t *testing.T) {
	var buf bytes.Buffer
	bar := ui.NewTransferBarWithWriter(100, "Pulling study 1.2.840.99.1", &buf)

	bar.Add(50)
	bar.Finish()

	assert.NotEmpty(t, buf.String(), "transfer bar should produce output")
}

func TestSpinner_Lifecycle(t *testing.T) {
	spinner := ui.NewSpinner("Waiting for association")

	assert.NotNil(t, spinner)
	assert.False(t, spinner.IsActive(), "spinner should not be active initially")

	spinner.Start()
	assert.True(t, spinner.IsActive(), "spinner should be active after Start()")

	spinner.Stop(true)
	assert.False(t, spinner.IsActive(), "spinner should not be active after Stop()")
}

func TestSpinner_Messages(t *testing.T) {
	spinner := ui.NewSpinner("Polling remote")

	spinner.Start()
	spinner.UpdateMessage("Waiting for stragglers to settle")
	spinner.Stop(true)

	assert.False(t, spinner.IsActive())
}

func TestSpinner_SuccessFailure(t *testing.T) {
	success := ui.NewSpinner("Pull study")
	success.Start()
	success.Stop(true)

	failure := ui.NewSpinner("Pull study")
	failure.Start()
	failure.Stop(false)

	assert.False(t, success.IsActive())
	assert.False(t, failure.IsActive())
}
