package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTick(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		price    float64
		tick     float64
		expected float64
	}{
		{"on_grid", 4500.25, 0.25, 4500.25},
		{"round_up", 4500.20, 0.25, 4500.25},
		{"round_down", 4500.10, 0.25, 4500.00},
		{"halfway_up", 4500.125, 0.25, 4500.25},
		{"negative", -4500.20, 0.25, -4500.25},
		{"zero_tick", 4500.20, 0, 4500.20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, RoundTick(tt.price, tt.tick), 1e-9)
		})
	}
}

func TestPointValue(t *testing.T) {
	t.Parallel()

	es := FuturesMeta{Symbol: "@ES#", TickSize: 0.25, TickValue: 12.50}
	assert.InDelta(t, 50.0, es.PointValue(), 1e-9)
}
