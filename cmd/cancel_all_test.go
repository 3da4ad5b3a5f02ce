package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mselser95/crossarb/pkg/types"
)

func TestLockedNotional(t *testing.T) {
	tests := []struct {
		name     string
		orders   []types.OrderStatus
		expected float64
	}{
		{
			name:     "no-orders",
			orders:   nil,
			expected: 0,
		},
		{
			name: "single-order",
			orders: []types.OrderStatus{
				{Price: 0.45, RemainingQty: 100},
			},
			expected: 45.0,
		},
		{
			name: "sums-across-orders",
			orders: []types.OrderStatus{
				{Price: 0.45, RemainingQty: 100},
				{Price: 0.10, RemainingQty: 50},
			},
			expected: 50.0,
		},
		{
			name: "skips-fully-filled",
			orders: []types.OrderStatus{
				{Price: 0.45, RemainingQty: 0},
				{Price: 0.50, RemainingQty: 20},
			},
			expected: 10.0,
		},
		{
			name: "skips-negative-remaining",
			orders: []types.OrderStatus{
				{Price: 0.45, RemainingQty: -5},
				{Price: 0.20, RemainingQty: 10},
			},
			expected: 2.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, lockedNotional(tt.orders), 1e-9)
		})
	}
}
