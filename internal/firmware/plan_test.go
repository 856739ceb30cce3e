// SPDX-License-Identifier: GPL-3.0-only

package firmware_test

import (
	"bytes"
	"testing"

	"github.com/shini4i/dualsense-updater/internal/firmware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func patternImage(t *testing.T, size int) *firmware.Image {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 7)
	}
	image, err := firmware.New(data)
	require.NoError(t, err)
	return image
}

func TestNewPlan_InvalidChunkSize(t *testing.T) {
	image := patternImage(t, 10)

	for _, size := range []int{0, -1} {
		plan, err := firmware.NewPlan(image, size)
		assert.Nil(t, plan)
		assert.ErrorIs(t, err, firmware.ErrInvalidChunkSize)
	}
}

func TestPlan_Reassembles(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		chunkSize int
		count     int
		lastLen   int
	}{
		{name: "10000 bytes in 1024 byte chunks", size: 10000, chunkSize: 1024, count: 10, lastLen: 784},
		{name: "exact multiple has no empty tail", size: 4096, chunkSize: 1024, count: 4, lastLen: 1024},
		{name: "image smaller than chunk", size: 10, chunkSize: 57, count: 1, lastLen: 10},
		{name: "single byte chunks", size: 5, chunkSize: 1, count: 5, lastLen: 1},
		{name: "report sized chunks", size: 1000, chunkSize: 0x39, count: 18, lastLen: 1000 - 17*0x39},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			image := patternImage(t, tt.size)
			plan, err := firmware.NewPlan(image, tt.chunkSize)
			require.NoError(t, err)
			assert.Equal(t, tt.count, plan.Count())
			assert.Equal(t, tt.chunkSize, plan.ChunkSize())

			var buf bytes.Buffer
			expectedIndex := 0
			for chunk := range plan.All() {
				assert.Equal(t, expectedIndex, chunk.Index)
				assert.Equal(t, expectedIndex*tt.chunkSize, chunk.Offset)
				if chunk.Index < tt.count-1 {
					assert.Equal(t, tt.chunkSize, chunk.Len())
				} else {
					assert.Equal(t, tt.lastLen, chunk.Len())
				}
				buf.Write(chunk.Data)
				expectedIndex++
			}

			assert.Equal(t, tt.count, expectedIndex)
			assert.Equal(t, image.Bytes(), buf.Bytes())
		})
	}
}

func TestPlan_IsRestartable(t *testing.T) {
	plan, err := firmware.NewPlan(patternImage(t, 3000), 256)
	require.NoError(t, err)

	var first, second []firmware.Chunk
	for c := range plan.All() {
		first = append(first, c)
	}
	for c := range plan.All() {
		second = append(second, c)
	}

	assert.Equal(t, first, second)
}

func TestPlan_ChunkRandomAccess(t *testing.T) {
	image := patternImage(t, 10000)
	plan, err := firmware.NewPlan(image, 1024)
	require.NoError(t, err)

	chunk, err := plan.Chunk(7)
	require.NoError(t, err)
	assert.Equal(t, 7, chunk.Index)
	assert.Equal(t, image.Bytes()[7*1024:8*1024], chunk.Data)

	last, err := plan.Chunk(9)
	require.NoError(t, err)
	assert.Equal(t, 784, last.Len())

	_, err = plan.Chunk(10)
	assert.Error(t, err)
	_, err = plan.Chunk(-1)
	assert.Error(t, err)
}

func TestPlan_ChunkCannotGrowIntoNeighbour(t *testing.T) {
	image := patternImage(t, 100)
	plan, err := firmware.NewPlan(image, 10)
	require.NoError(t, err)

	chunk, err := plan.Chunk(0)
	require.NoError(t, err)
	assert.Equal(t, 10, cap(chunk.Data))
}

func TestPlan_StopsEarly(t *testing.T) {
	plan, err := firmware.NewPlan(patternImage(t, 100), 10)
	require.NoError(t, err)

	seen := 0
	for c := range plan.All() {
		seen++
		if c.Index == 2 {
			break
		}
	}
	assert.Equal(t, 3, seen)
}
