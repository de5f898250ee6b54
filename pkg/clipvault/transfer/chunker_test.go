package transfer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/clipvault/pkg/clipvault/transfer"
)

func TestPlan(t *testing.T) {
	tests := []struct {
		name      string
		size      int64
		partSize  int64
		wantParts int
		wantLast  int64
	}{
		{"empty file", 0, 5 << 20, 0, 0},
		{"smaller than one part", 100, 5 << 20, 1, 100},
		{"exactly one part", 5 << 20, 5 << 20, 1, 5 << 20},
		{"one byte over", (5 << 20) + 1, 5 << 20, 2, 1},
		{"12 MiB in 5 MiB parts", 12 << 20, 5 << 20, 3, 2 << 20},
		{"exact multiple", 15 << 20, 5 << 20, 3, 5 << 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts := transfer.Plan(tt.size, tt.partSize)
			require.Len(t, parts, tt.wantParts)
			if tt.wantParts == 0 {
				return
			}

			// Parts are numbered contiguously from 1 and cover the
			// full size with no gaps or overlaps.
			var covered int64
			for i, p := range parts {
				assert.Equal(t, int32(i+1), p.Number)
				assert.Equal(t, covered, p.Offset)
				assert.Greater(t, p.Size, int64(0))
				covered += p.Size
			}
			assert.Equal(t, tt.size, covered)
			assert.Equal(t, tt.wantLast, parts[len(parts)-1].Size)
		})
	}
}

func TestPlanRejectsInvalidInput(t *testing.T) {
	assert.Nil(t, transfer.Plan(100, 0))
	assert.Nil(t, transfer.Plan(-1, transfer.DefaultPartSize))
}
