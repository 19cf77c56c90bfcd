package mdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeSpansBoundsAcrossFragments(t *testing.T) {
	fragments := []Fragment{
		{Name: "f1", Data: []byte(`{
			"resolution": {"width": 640, "height": 480},
			"chunk": {"pts_start": 100, "pts_end": 200, "utc_start": 1000, "utc_end": 2000},
			"frame": [{"number": 1}, {"number": 2}]
		}`)},
		{Name: "f2", Data: []byte(`{
			"resolution": {"width": 640, "height": 480},
			"chunk": {"pts_start": 300, "pts_end": 400, "utc_start": 3000, "utc_end": 4000},
			"frame": [{"number": 3}]
		}`)},
	}

	merged, err := Merge(fragments)
	require.NoError(t, err)

	assert.Equal(t, Bounds{PTSStart: 100, PTSEnd: 400, UTCStart: 1000, UTCEnd: 4000}, merged.Bounds)
	assert.Len(t, merged.Frames, 3)
}

func TestMergeSplitChunkKeys(t *testing.T) {
	// newer firmware splits the bounds into chunkPts and chunkUtc
	fragments := []Fragment{
		{Name: "f1", Data: []byte(`{
			"resolution": {"width": 1280, "height": 720},
			"chunkPts": {"pts_start": "100", "pts_end": "200"},
			"chunkUtc": {"utc_start": 1000, "utc_end": 2000},
			"frame": [{"number": 1}]
		}`)},
	}

	merged, err := Merge(fragments)
	require.NoError(t, err)
	assert.Equal(t, Bounds{PTSStart: 100, PTSEnd: 200, UTCStart: 1000, UTCEnd: 2000}, merged.Bounds)
}

func TestMergeSortsFramesByNumber(t *testing.T) {
	fragments := []Fragment{
		{Name: "f2", Data: []byte(`{
			"chunk": {"pts_start": 300, "pts_end": 400, "utc_start": 3000, "utc_end": 4000},
			"frame": [{"number": 4}, {"number": 3}]
		}`)},
		{Name: "f1", Data: []byte(`{
			"chunk": {"pts_start": 100, "pts_end": 200, "utc_start": 1000, "utc_end": 2000},
			"frame": [{"number": 2}, {"number": 1}]
		}`)},
	}

	merged, err := Merge(fragments)
	require.NoError(t, err)

	numbers := make([]int64, 0, len(merged.Frames))
	for _, frame := range merged.Frames {
		numbers = append(numbers, frameNumber(frame))
	}
	assert.Equal(t, []int64{1, 2, 3, 4}, numbers)
}

func TestMergeDuplicateKeys(t *testing.T) {
	// device firmware occasionally emits the same key twice inside one
	// object; values must merge instead of the last one winning
	doc, err := decodeFragment([]byte(`{
		"frame": [{"number": 1}],
		"frame": [{"number": 2}],
		"signals": {"a": 1},
		"signals": {"b": 2},
		"scalar": 1,
		"scalar": 2
	}`))
	require.NoError(t, err)

	frames, ok := doc["frame"].([]any)
	require.True(t, ok)
	assert.Len(t, frames, 2)

	signals, ok := doc["signals"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, signals, "a")
	assert.Contains(t, signals, "b")

	scalars, ok := doc["scalar"].([]any)
	require.True(t, ok)
	assert.Len(t, scalars, 2)
}

func TestMergeRejectsEmptyInput(t *testing.T) {
	_, err := Merge(nil)
	assert.Error(t, err)
}

func TestMergeRejectsFragmentWithoutBounds(t *testing.T) {
	_, err := Merge([]Fragment{
		{Name: "f1", Data: []byte(`{"frame": []}`)},
	})
	assert.Error(t, err)
}
