package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/fleetingest/internal/envelope"
	"github.com/your-org/fleetingest/pkg/storage/objectstore"
)

const hour12 = "acme/device01/year=2022/month=10/day=28/hour=12/"

func testParams() SearchParams {
	return SearchParams{
		Tenant:         "acme",
		DeviceID:       "device01",
		Recorder:       envelope.RecorderInterior,
		RecordingID:    "InteriorRecorder-abc123",
		UploadStarted:  time.Date(2022, 10, 28, 12, 0, 0, 0, time.UTC),
		UploadFinished: time.Date(2022, 10, 28, 12, 10, 0, 0, time.UTC),
	}
}

func testEngine(store *fakeStore, now time.Time) *Engine {
	e := NewEngine(store, NewFinder(store, zap.NewNop()), 5, zap.NewNop())
	e.now = func() time.Time { return now }
	return e
}

func inWindow(key string) objectstore.ObjectInfo {
	return objectstore.ObjectInfo{
		Key:          key,
		Size:         1,
		LastModified: time.Date(2022, 10, 28, 12, 5, 0, 0, time.UTC),
	}
}

func TestCheckAllPartsComplete(t *testing.T) {
	store := &fakeStore{objects: []objectstore.ObjectInfo{
		inWindow(hour12 + "InteriorRecorder_InteriorRecorder-abc123_1.mp4"),
		inWindow(hour12 + "InteriorRecorder_InteriorRecorder-abc123_1.mp4._stream1_metadata.json.zip"),
		inWindow(hour12 + "InteriorRecorder_InteriorRecorder-abc123_2.mp4"),
		inWindow(hour12 + "InteriorRecorder_InteriorRecorder-abc123_2.mp4._stream1_metadata.json.zip"),
	}}
	engine := testEngine(store, time.Date(2022, 10, 28, 15, 0, 0, 0, time.UTC))

	result, err := engine.CheckAllParts(context.Background(), testParams(), []string{".json.zip"})
	require.NoError(t, err)

	assert.True(t, result.Complete)
	assert.Len(t, result.MetadataKeys, 2)
	assert.Contains(t, result.MetadataKeys,
		hour12+"InteriorRecorder_InteriorRecorder-abc123_1.mp4._stream1_metadata.json.zip")
}

func TestCheckAllPartsNoVideos(t *testing.T) {
	// device prefix exists, but nothing was uploaded inside the window
	store := &fakeStore{objects: []objectstore.ObjectInfo{
		inWindow(hour12 + "InteriorRecorder_InteriorRecorder-abc123_1.mp4._stream1_metadata.json.zip"),
	}}
	engine := testEngine(store, time.Date(2022, 10, 28, 15, 0, 0, 0, time.UTC))

	result, err := engine.CheckAllParts(context.Background(), testParams(), []string{".json.zip"})
	require.NoError(t, err)

	assert.False(t, result.Complete)
	assert.Empty(t, result.MetadataKeys)
}

func TestCheckAllPartsEscalates(t *testing.T) {
	// the second fragment's metadata arrived two hours late, in a partition
	// past the upload window
	hour14 := "acme/device01/year=2022/month=10/day=28/hour=14/"
	store := &fakeStore{objects: []objectstore.ObjectInfo{
		inWindow(hour12 + "InteriorRecorder_InteriorRecorder-abc123_1.mp4"),
		inWindow(hour12 + "InteriorRecorder_InteriorRecorder-abc123_1.mp4._stream1_metadata.json.zip"),
		inWindow(hour12 + "InteriorRecorder_InteriorRecorder-abc123_2.mp4"),
		{
			Key:          hour14 + "InteriorRecorder_InteriorRecorder-abc123_2.mp4._stream1_metadata.json.zip",
			Size:         1,
			LastModified: time.Date(2022, 10, 28, 14, 30, 0, 0, time.UTC),
		},
	}}
	engine := testEngine(store, time.Date(2022, 10, 28, 15, 0, 0, 0, time.UTC))

	result, err := engine.CheckAllParts(context.Background(), testParams(), []string{".json.zip"})
	require.NoError(t, err)

	assert.True(t, result.Complete)
	assert.Len(t, result.MetadataKeys, 2)
}

func TestCheckAllPartsIncomplete(t *testing.T) {
	store := &fakeStore{objects: []objectstore.ObjectInfo{
		inWindow(hour12 + "InteriorRecorder_InteriorRecorder-abc123_1.mp4"),
		inWindow(hour12 + "InteriorRecorder_InteriorRecorder-abc123_2.mp4"),
		inWindow(hour12 + "InteriorRecorder_InteriorRecorder-abc123_2.mp4._stream1_metadata.json.zip"),
	}}
	engine := testEngine(store, time.Date(2022, 10, 28, 15, 0, 0, 0, time.UTC))

	result, err := engine.CheckAllParts(context.Background(), testParams(), []string{".json.zip"})
	require.NoError(t, err)

	// partial progress is reported so callers can defer without losing it
	assert.False(t, result.Complete)
	assert.Len(t, result.MetadataKeys, 1)
}

func TestCheckAllPartsInaccessibleDevice(t *testing.T) {
	engine := testEngine(&fakeStore{}, time.Date(2022, 10, 28, 15, 0, 0, 0, time.UTC))

	result, err := engine.CheckAllParts(context.Background(), testParams(), []string{".json.zip"})
	require.NoError(t, err)

	assert.False(t, result.Complete)
	assert.Empty(t, result.MetadataKeys)
}

func TestCheckAllPartsIgnoresOtherRecorders(t *testing.T) {
	store := &fakeStore{objects: []objectstore.ObjectInfo{
		inWindow(hour12 + "InteriorRecorder_InteriorRecorder-abc123_1.mp4"),
		inWindow(hour12 + "InteriorRecorder_InteriorRecorder-abc123_1.mp4._stream1_metadata.json.zip"),
		// shares the hour partition but belongs to another recorder
		inWindow(hour12 + "TrainingRecorder_TrainingRecorder-abc123_1.mp4"),
	}}
	engine := testEngine(store, time.Date(2022, 10, 28, 15, 0, 0, 0, time.UTC))

	result, err := engine.CheckAllParts(context.Background(), testParams(), []string{".json.zip"})
	require.NoError(t, err)
	assert.True(t, result.Complete)
}

func TestListVideoKeysOrdersByFragmentIndex(t *testing.T) {
	store := &fakeStore{objects: []objectstore.ObjectInfo{
		inWindow(hour12 + "InteriorRecorder_InteriorRecorder-abc123_10.mp4"),
		inWindow(hour12 + "InteriorRecorder_InteriorRecorder-abc123_1.mp4"),
		inWindow(hour12 + "InteriorRecorder_InteriorRecorder-abc123_2.mp4"),
	}}
	engine := testEngine(store, time.Date(2022, 10, 28, 15, 0, 0, 0, time.UTC))

	keys, err := engine.ListVideoKeys(context.Background(), testParams())
	require.NoError(t, err)

	// numeric order, not lexicographic
	assert.Equal(t, []string{
		hour12 + "InteriorRecorder_InteriorRecorder-abc123_1.mp4",
		hour12 + "InteriorRecorder_InteriorRecorder-abc123_2.mp4",
		hour12 + "InteriorRecorder_InteriorRecorder-abc123_10.mp4",
	}, keys)
}

func TestFindFile(t *testing.T) {
	stem := "TrainingMultiSnapshot_TrainingMultiSnapshot-xyz_1"
	store := &fakeStore{objects: []objectstore.ObjectInfo{
		inWindow(hour12 + stem + ".jpeg"),
		inWindow(hour12 + stem + "_metadata.json"),
	}}
	engine := testEngine(store, time.Date(2022, 10, 28, 15, 0, 0, 0, time.UTC))

	params := FindParams{
		Tenant:     "acme",
		DeviceID:   "device01",
		Prefix:     stem,
		Start:      time.Date(2022, 10, 28, 12, 0, 0, 0, time.UTC),
		End:        time.Date(2022, 10, 28, 15, 0, 0, 0, time.UTC),
		Extensions: []string{".jpeg", ".png"},
	}

	found, err := engine.FindFile(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, hour12+stem+".jpeg", found.Key)

	params.Extensions = []string{".json"}
	found, err = engine.FindFile(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, hour12+stem+"_metadata.json", found.Key)

	params.Prefix = "TrainingMultiSnapshot_TrainingMultiSnapshot-missing"
	_, err = engine.FindFile(context.Background(), params)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindFileRejectsAmbiguousMatches(t *testing.T) {
	stem := "TrainingMultiSnapshot_TrainingMultiSnapshot-xyz_1"
	store := &fakeStore{objects: []objectstore.ObjectInfo{
		inWindow(hour12 + stem + ".jpeg"),
		inWindow(hour12 + stem + ".png"),
	}}
	engine := testEngine(store, time.Date(2022, 10, 28, 15, 0, 0, 0, time.UTC))

	_, err := engine.FindFile(context.Background(), FindParams{
		Tenant:     "acme",
		DeviceID:   "device01",
		Prefix:     stem,
		Start:      time.Date(2022, 10, 28, 12, 0, 0, 0, time.UTC),
		End:        time.Date(2022, 10, 28, 15, 0, 0, 0, time.UTC),
		Extensions: []string{".jpeg", ".png"},
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
