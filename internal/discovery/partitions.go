// Package discovery locates artifact fragments in the staging object store.
// The store is partitioned as tenant/device/year=Y/month=M/day=D/hour=H/ and
// listing is the only available primitive, so everything here is built on
// bounded, delimiter listings: a partition walker that descends the sparse
// calendar tree, and an engine that correlates the video and metadata
// fragments it finds there.
package discovery

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/fleetingest/pkg/storage/objectstore"
)

// Lister is the slice of the object store the discovery code needs.
type Lister interface {
	List(ctx context.Context, prefix string, opts objectstore.ListOptions) (objectstore.ListResult, error)
}

var (
	yearRe  = regexp.MustCompile(`year=(\d{4})`)
	monthRe = regexp.MustCompile(`month=(\d{2})`)
	dayRe   = regexp.MustCompile(`day=(\d{2})`)
	hourRe  = regexp.MustCompile(`hour=(\d{2})`)
)

// Finder walks the time-partition tree of the staging store.
type Finder struct {
	store Lister
	log   *zap.Logger
}

// NewFinder constructs a Finder over the given store.
func NewFinder(store Lister, log *zap.Logger) *Finder {
	return &Finder{store: store, log: log}
}

// DiscoverPartitions returns every hour-granularity partition prefix under
// parent whose representable time range lies within [start, end], both
// boundary hours included. The tree is sparse, so instead of enumerating
// fixed hour steps it descends the prefixes that actually exist
// (year, then month, day, hour) and prunes subtrees outside the window.
func (f *Finder) DiscoverPartitions(ctx context.Context, parent string, start, end time.Time) ([]string, error) {
	startZero := start.Truncate(time.Hour)
	endZero := end.Truncate(time.Hour)

	f.log.Debug("discovering partitions",
		zap.String("parent", parent),
		zap.Time("start", startZero), zap.Time("end", endZero))

	var hours []string
	worklist := []string{parent}

	for len(worklist) > 0 {
		prefix := worklist[0]
		worklist = worklist[1:]

		listing, err := f.store.List(ctx, prefix, objectstore.ListOptions{Recursive: false})
		if err != nil {
			return nil, err
		}

		for _, sub := range listing.CommonPrefixes {
			// a prefix without the trailing separator cannot descend further
			if !strings.HasSuffix(sub, "/") {
				continue
			}

			lo, hi := partitionBounds(startZero, endZero, sub)
			if lo.Before(startZero) || hi.After(endZero) {
				continue
			}

			if strings.Contains(prefix, "day=") {
				// hour folders are the leaves; skip anything else this deep
				if strings.Contains(sub, "hour=") {
					hours = append(hours, sub)
				}
				continue
			}
			worklist = append(worklist, sub)
		}
	}

	// zero-padded components make lexicographic order chronological
	sort.Strings(hours)
	return hours, nil
}

// partitionBounds substitutes the calendar components present in path into
// the two reference times, yielding the earliest and latest instants the
// partition can represent relative to the search window.
func partitionBounds(start, end time.Time, path string) (time.Time, time.Time) {
	year := matchComponent(yearRe, path)
	month := matchComponent(monthRe, path)
	day := matchComponent(dayRe, path)
	hour := matchComponent(hourRe, path)

	return substitute(start, year, month, day, hour),
		substitute(end, year, month, day, hour)
}

func substitute(t time.Time, year, month, day, hour *int) time.Time {
	y, m, d, h := t.Year(), int(t.Month()), t.Day(), t.Hour()
	if year != nil {
		y = *year
	}
	if month != nil {
		m = *month
	}
	if day != nil {
		d = *day
	}
	if hour != nil {
		h = *hour
	}
	// month overflow (e.g. day 31 substituted into a 30-day month) clamps to
	// the month's actual last day
	if last := daysInMonth(y, m); d > last {
		d = last
	}
	return time.Date(y, time.Month(m), d, h, t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func matchComponent(re *regexp.Regexp, path string) *int {
	groups := re.FindStringSubmatch(path)
	if groups == nil {
		return nil
	}
	n, err := strconv.Atoi(groups[1])
	if err != nil {
		return nil
	}
	return &n
}

func daysInMonth(year, month int) int {
	// day zero of the next month is the last day of this one
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
