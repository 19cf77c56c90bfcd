package discovery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/fleetingest/internal/envelope"
	"github.com/your-org/fleetingest/pkg/storage/objectstore"
)

// ErrNotFound is returned when the crawl exhausted every candidate partition
// without locating the requested file.
var ErrNotFound = errors.New("file not found in source store")

// listPageSize is the store's maximum page size for one list call.
const listPageSize = 1000

var (
	// videoKeyRe matches media fragment keys:
	// <recorder>_<recorder>-<recording uuid>_<index>.mp4
	videoKeyRe = regexp.MustCompile(`(\w+)_(\w+)-([a-z0-9\-]+)_(\d+)\.mp4$`)
	// ownerVideoRe strips a fragment key down to the video filename that owns
	// it, relative to its hour partition
	ownerVideoRe = regexp.MustCompile(`/hour=\d{2}/(.+\.mp4)`)
)

// SearchParams identifies the artifact whose fragments are being located.
type SearchParams struct {
	Tenant         string
	DeviceID       string
	Recorder       envelope.RecorderType
	RecordingID    string
	UploadStarted  time.Time
	UploadFinished time.Time
}

func (p SearchParams) devicePrefix() string {
	return p.Tenant + "/" + p.DeviceID + "/"
}

func (p SearchParams) chunkPrefix() string {
	return fmt.Sprintf("%s_%s", p.Recorder, p.RecordingID)
}

// MatchResult is the outcome of a completeness check. Complete is true when
// every video fragment has a matched metadata fragment; MetadataKeys holds
// whatever was matched either way, so a deferring caller keeps its partial
// progress.
type MatchResult struct {
	Complete     bool
	MetadataKeys map[string]struct{}
}

// Engine correlates video fragments with their metadata fragments in the
// partitioned staging store.
type Engine struct {
	store    Lister
	finder   *Finder
	log      *zap.Logger
	maxPages int
	now      func() time.Time
}

// NewEngine constructs an Engine. maxPages bounds how many list pages are
// read per partition leaf.
func NewEngine(store Lister, finder *Finder, maxPages int, log *zap.Logger) *Engine {
	if maxPages <= 0 {
		maxPages = 5
	}
	return &Engine{
		store:    store,
		finder:   finder,
		log:      log,
		maxPages: maxPages,
		now:      time.Now,
	}
}

// chunkSuffixRegex matches metadata fragment keys carrying one of the given
// extensions appended to their owning video filename, e.g.
// `.+_(\d+)\.mp4.+(\.json\.zip)$`.
func chunkSuffixRegex(extensions []string) (*regexp.Regexp, error) {
	quoted := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		if !strings.HasPrefix(ext, ".") {
			return nil, fmt.Errorf("chunk extension %q must start with a dot", ext)
		}
		quoted = append(quoted, regexp.QuoteMeta(ext))
	}
	return regexp.Compile(`.+_(\d+)\.mp4.+(` + strings.Join(quoted, "|") + `)$`)
}

// ownerVideo strips a fragment key down to its owning video filename, or ""
// when the key does not sit under an hour partition.
func ownerVideo(key string) string {
	groups := ownerVideoRe.FindStringSubmatch(key)
	if groups == nil {
		return ""
	}
	return groups[1]
}

// probeDevice verifies that the tenant/device prefix is listable at all,
// producing a clear diagnostic before a full crawl returns an ambiguous
// empty result.
func (e *Engine) probeDevice(ctx context.Context, p SearchParams) (bool, error) {
	listing, err := e.store.List(ctx, p.devicePrefix(), objectstore.ListOptions{Recursive: false, MaxKeys: 1})
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", p.devicePrefix(), err)
	}
	if len(listing.Objects) > 0 || len(listing.CommonPrefixes) > 0 {
		return true, nil
	}

	// narrow the diagnostic: does the tenant prefix exist at all?
	tenantListing, err := e.store.List(ctx, p.Tenant+"/", objectstore.ListOptions{Recursive: false, MaxKeys: 1})
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", p.Tenant, err)
	}
	if len(tenantListing.Objects) == 0 && len(tenantListing.CommonPrefixes) == 0 {
		e.log.Error("tenant prefix not accessible in source store",
			zap.String("tenant", p.Tenant))
	} else {
		e.log.Error("device prefix not accessible in source store",
			zap.String("tenant", p.Tenant), zap.String("device_id", p.DeviceID))
	}
	return false, nil
}

// lookupPaths enumerates the chunk prefixes to list, one per hour partition
// between start and end.
func (e *Engine) lookupPaths(ctx context.Context, p SearchParams, start, end time.Time) ([]string, error) {
	partitions, err := e.finder.DiscoverPartitions(ctx, p.devicePrefix(), start, end)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(partitions))
	for _, partition := range partitions {
		paths = append(paths, partition+p.chunkPrefix())
	}
	return paths, nil
}

// listChunks lists one partition leaf and splits its keys into the metadata
// set and the video set. Video fragments outside [UploadStarted,
// UploadFinished] are excluded when timeFiltered is set; metadata is never
// time-filtered, since its modification time is not meaningful for
// correlation.
func (e *Engine) listChunks(
	ctx context.Context,
	path string,
	p SearchParams,
	metaRe *regexp.Regexp,
	timeFiltered bool,
) (metadata, videos map[string]struct{}, err error) {
	metadata = map[string]struct{}{}
	videos = map[string]struct{}{}

	listing, err := e.store.List(ctx, path, objectstore.ListOptions{
		Recursive: true,
		MaxKeys:   e.maxPages * listPageSize,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("list %s: %w", path, err)
	}

	for _, obj := range listing.Objects {
		if obj.Size == 0 {
			continue
		}
		// avoid catching fragments from another recorder sharing the prefix
		if p.Recorder != envelope.RecorderUnknown && !strings.Contains(obj.Key, string(p.Recorder)) {
			e.log.Debug("fragment belongs to a different recorder",
				zap.String("key", obj.Key), zap.String("recorder", string(p.Recorder)))
			continue
		}

		switch {
		case videoKeyRe.MatchString(obj.Key):
			if timeFiltered && obj.LastModified.Before(p.UploadStarted) {
				e.log.Debug("video fragment modified before upload window",
					zap.String("key", obj.Key), zap.Time("modified", obj.LastModified))
				continue
			}
			if timeFiltered && obj.LastModified.After(p.UploadFinished) {
				e.log.Debug("video fragment modified after upload window",
					zap.String("key", obj.Key), zap.Time("modified", obj.LastModified))
				continue
			}
			videos[obj.Key] = struct{}{}
		case metaRe.MatchString(obj.Key):
			metadata[obj.Key] = struct{}{}
		default:
			e.log.Debug("key does not match any known fragment pattern",
				zap.String("key", obj.Key))
		}
	}

	return metadata, videos, nil
}

// CheckAllParts verifies that every video fragment uploaded for the artifact
// has a matching metadata fragment with one of the given extensions. The
// first pass covers the upload window; fragments still unmatched afterwards
// trigger an escalation pass from one hour past the upload window up to now,
// because devices may finish uploading metadata well after the video.
func (e *Engine) CheckAllParts(ctx context.Context, p SearchParams, extensions []string) (MatchResult, error) {
	empty := MatchResult{Complete: false, MetadataKeys: map[string]struct{}{}}

	metaRe, err := chunkSuffixRegex(extensions)
	if err != nil {
		return empty, err
	}

	accessible, err := e.probeDevice(ctx, p)
	if err != nil {
		return empty, err
	}
	if !accessible {
		return empty, nil
	}

	paths, err := e.lookupPaths(ctx, p, p.UploadStarted, p.UploadFinished.Add(time.Second))
	if err != nil {
		return empty, err
	}
	if len(paths) == 0 {
		e.log.Error("no partitions found for upload window",
			zap.String("prefix", p.devicePrefix()),
			zap.Time("upload_started", p.UploadStarted),
			zap.Time("upload_finished", p.UploadFinished))
		return empty, nil
	}

	metadata := map[string]struct{}{}
	unmatched := map[string]struct{}{}

	for _, path := range paths {
		pathMetadata, pathVideos, err := e.listChunks(ctx, path, p, metaRe, true)
		if err != nil {
			return empty, err
		}
		for key := range pathMetadata {
			metadata[key] = struct{}{}
		}
		for key := range pathVideos {
			if name := ownerVideo(key); name != "" {
				unmatched[name] = struct{}{}
			}
		}
	}

	if len(unmatched) == 0 {
		// distinct from "found but not all matched": nothing was uploaded in
		// the window at all
		e.log.Error("no video fragments found inside upload window",
			zap.String("prefix", p.devicePrefix()))
		return empty, nil
	}

	// retain only metadata owned by one of the found videos; extra metadata
	// without a video is ignored
	matched := map[string]struct{}{}
	for key := range metadata {
		if name := ownerVideo(key); name != "" {
			if _, ok := unmatched[name]; ok {
				matched[key] = struct{}{}
				delete(unmatched, name)
			}
		}
	}

	if len(unmatched) == 0 {
		e.log.Info("all metadata fragments found within upload window",
			zap.Int("count", len(matched)))
		return MatchResult{Complete: true, MetadataKeys: matched}, nil
	}

	e.log.Debug("metadata incomplete within upload window, escalating",
		zap.Int("unmatched", len(unmatched)))

	complete, err := e.escalate(ctx, p, metaRe, unmatched, matched)
	if err != nil {
		return empty, err
	}

	e.log.Info("metadata search finished",
		zap.Bool("complete", complete), zap.Int("matched", len(matched)))
	return MatchResult{Complete: complete, MetadataKeys: matched}, nil
}

// escalate repeats the metadata search from one hour past the upload window
// up to the present moment, stopping as soon as the unmatched set drains.
// matched is extended in place.
func (e *Engine) escalate(
	ctx context.Context,
	p SearchParams,
	metaRe *regexp.Regexp,
	unmatched map[string]struct{},
	matched map[string]struct{},
) (bool, error) {
	paths, err := e.lookupPaths(ctx, p, p.UploadFinished.Add(time.Hour), e.now())
	if err != nil {
		return false, err
	}

	for i, path := range paths {
		pathMetadata, _, err := e.listChunks(ctx, path, p, metaRe, false)
		if err != nil {
			return false, err
		}

		for key := range pathMetadata {
			name := ownerVideo(key)
			if name == "" {
				continue
			}
			if _, ok := unmatched[name]; ok {
				matched[key] = struct{}{}
				delete(unmatched, name)
			}
		}

		if len(unmatched) == 0 {
			e.log.Info("metadata found outside upload window",
				zap.Int("partitions_crawled", i+1))
			return true, nil
		}
	}

	videos := make([]string, 0, len(unmatched))
	for name := range unmatched {
		videos = append(videos, name)
	}
	e.log.Warn("metadata still missing for video fragments",
		zap.Strings("videos", videos))
	return false, nil
}

// ListVideoKeys returns the full keys of the artifact's video fragments
// found inside its upload window, ordered by fragment index.
func (e *Engine) ListVideoKeys(ctx context.Context, p SearchParams) ([]string, error) {
	paths, err := e.lookupPaths(ctx, p, p.UploadStarted, p.UploadFinished.Add(time.Second))
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, path := range paths {
		listing, err := e.store.List(ctx, path, objectstore.ListOptions{
			Recursive: true,
			MaxKeys:   e.maxPages * listPageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", path, err)
		}
		for _, obj := range listing.Objects {
			if obj.Size == 0 || !videoKeyRe.MatchString(obj.Key) {
				continue
			}
			if obj.LastModified.Before(p.UploadStarted) || obj.LastModified.After(p.UploadFinished) {
				continue
			}
			keys = append(keys, obj.Key)
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		return videoFragmentIndex(keys[i]) < videoFragmentIndex(keys[j])
	})
	return keys, nil
}

func videoFragmentIndex(key string) int {
	groups := videoKeyRe.FindStringSubmatch(key)
	if groups == nil {
		return 0
	}
	n, _ := strconv.Atoi(groups[4])
	return n
}

// FindParams identifies a single file to locate in the staging store.
type FindParams struct {
	Tenant     string
	DeviceID   string
	Prefix     string
	Start      time.Time
	End        time.Time
	Extensions []string
}

// FindFile walks the hour partitions in [Start, End] and returns the first
// object whose key starts with Prefix and ends with one of the allowed
// extensions. More than one candidate in a partition is an error; no
// candidate anywhere is ErrNotFound.
func (e *Engine) FindFile(ctx context.Context, p FindParams) (objectstore.ObjectInfo, error) {
	parent := p.Tenant + "/" + p.DeviceID + "/"
	partitions, err := e.finder.DiscoverPartitions(ctx, parent, p.Start, p.End)
	if err != nil {
		return objectstore.ObjectInfo{}, err
	}

	for _, partition := range partitions {
		path := partition + p.Prefix
		listing, err := e.store.List(ctx, path, objectstore.ListOptions{
			Recursive: true,
			MaxKeys:   listPageSize,
		})
		if err != nil {
			return objectstore.ObjectInfo{}, fmt.Errorf("list %s: %w", path, err)
		}

		var candidates []objectstore.ObjectInfo
		for _, obj := range listing.Objects {
			if obj.Size == 0 {
				continue
			}
			for _, ext := range p.Extensions {
				if strings.HasSuffix(obj.Key, ext) {
					candidates = append(candidates, obj)
					break
				}
			}
		}

		if len(candidates) > 1 {
			return objectstore.ObjectInfo{}, fmt.Errorf("found %d files for %s, expected one", len(candidates), path)
		}
		if len(candidates) == 1 {
			e.log.Debug("file found", zap.String("key", candidates[0].Key))
			return candidates[0], nil
		}
	}

	return objectstore.ObjectInfo{}, fmt.Errorf("%s with extensions %v: %w", p.Prefix, p.Extensions, ErrNotFound)
}
