package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/fleetingest/internal/discovery"
	"github.com/your-org/fleetingest/internal/media"
	"github.com/your-org/fleetingest/pkg/queue"
	"github.com/your-org/fleetingest/pkg/storage/objectstore"
)

// fakeStore is an in-memory objectstore.Client with delimiter-listing
// semantics.
type fakeStore struct {
	mu      sync.Mutex
	bucket  string
	data    map[string][]byte
	info    map[string]objectstore.ObjectInfo
	putKeys []string
}

func newFakeStore(bucket string) *fakeStore {
	return &fakeStore{
		bucket: bucket,
		data:   map[string][]byte{},
		info:   map[string]objectstore.ObjectInfo{},
	}
}

func (f *fakeStore) add(key string, data []byte, modified time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = data
	f.info[key] = objectstore.ObjectInfo{Key: key, Size: int64(len(data)), LastModified: modified}
}

func (f *fakeStore) List(_ context.Context, prefix string, opts objectstore.ListOptions) (objectstore.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make([]string, 0, len(f.info))
	for key := range f.info {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var result objectstore.ListResult
	seen := map[string]bool{}
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if opts.Recursive {
			result.Objects = append(result.Objects, f.info[key])
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			sub := prefix + rest[:i+1]
			if !seen[sub] {
				seen[sub] = true
				result.CommonPrefixes = append(result.CommonPrefixes, sub)
			}
			continue
		}
		result.Objects = append(result.Objects, f.info[key])
	}
	return result, nil
}

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (f *fakeStore) Put(_ context.Context, key string, reader io.Reader, _ int64, _ map[string]string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = data
	f.info[key] = objectstore.ObjectInfo{Key: key, Size: int64(len(data)), LastModified: time.Now()}
	f.putKeys = append(f.putKeys, key)
	return nil
}

func (f *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok, nil
}

func (f *fakeStore) Bucket() string { return f.bucket }

// fakeConsumer records which terminal action each message received.
type fakeConsumer struct {
	deleted  []string
	extended map[string]time.Duration
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{extended: map[string]time.Duration{}}
}

func (f *fakeConsumer) Receive(context.Context) (*queue.Message, error) { return nil, nil }

func (f *fakeConsumer) Delete(_ context.Context, msg *queue.Message) error {
	f.deleted = append(f.deleted, msg.ID)
	return nil
}

func (f *fakeConsumer) ChangeVisibility(_ context.Context, msg *queue.Message, timeout time.Duration) error {
	f.extended[msg.ID] = timeout
	return nil
}

// fakeNotifier captures published payloads.
type fakeNotifier struct {
	published [][]byte
}

func (f *fakeNotifier) Publish(_ context.Context, _ []byte, value []byte, _ map[string]string) error {
	f.published = append(f.published, value)
	return nil
}

// fakeProber returns a fixed probe result.
type fakeProber struct{}

func (fakeProber) Probe(context.Context, []byte) (media.Info, error) {
	return media.Info{Width: 640, Height: 480, DurationSeconds: 60}, nil
}

type testHarness struct {
	orchestrator *Orchestrator
	source       *fakeStore
	dest         *fakeStore
	consumer     *fakeConsumer
	records      *fakeNotifier
	mdf          *fakeNotifier
	selector     *fakeNotifier
}

func newHarness(t *testing.T, policy Policy) *testHarness {
	t.Helper()

	source := newFakeStore("device-data")
	dest := newFakeStore("raw-artifacts")
	consumer := newFakeConsumer()
	records := &fakeNotifier{}
	mdfNotifier := &fakeNotifier{}
	selector := &fakeNotifier{}

	log := zap.NewNop()
	engine := discovery.NewEngine(source, discovery.NewFinder(source, log), 5, log)

	orchestrator := NewOrchestrator(Params{
		Source:   source,
		Dest:     dest,
		Engine:   engine,
		Retry:    NewRetryController(consumer, log),
		Prober:   fakeProber{},
		Records:  records,
		MDF:      mdfNotifier,
		Selector: selector,
		Policy:   policy,
		Logger:   log,
	})

	return &testHarness{
		orchestrator: orchestrator,
		source:       source,
		dest:         dest,
		consumer:     consumer,
		records:      records,
		mdf:          mdfNotifier,
		selector:     selector,
	}
}

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}
