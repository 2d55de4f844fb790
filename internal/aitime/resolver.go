// Package aitime turns extracted time descriptors into absolute instants.
package aitime

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which rule resolved a descriptor.
type Kind string

const (
	KindAbsolute Kind = "absolute"
	KindToday    Kind = "today"
	KindTomorrow Kind = "tomorrow"
	KindRelative Kind = "relative"
	KindDefault  Kind = "default"
)

// DefaultOffset is applied when a descriptor is empty, unknown or malformed.
const DefaultOffset = time.Hour

// DefaultTimezone is the civil zone used when none is configured.
const DefaultTimezone = "Asia/Kolkata"

// tomorrowHour is the target hour for "tomorrow" and the after-hours "today" rollover.
const tomorrowHour = 13

// todayWindows maps the reference time-of-day to a target hour on the same day.
// References at or after 20:00 roll over to tomorrowHour on the next day.
var todayWindows = []struct {
	before int // exclusive upper bound, hour of day
	target int
}{
	{before: 11, target: 13},
	{before: 16, target: 16},
	{before: 20, target: 20},
}

var relativeUnits = []struct {
	name string
	unit time.Duration
}{
	{"second", time.Second},
	{"minute", time.Minute},
	{"hour", time.Hour},
	{"day", 24 * time.Hour},
}

// naiveLayouts are ISO-8601 date-times without an offset.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Resolution is the outcome of resolving a descriptor.
type Resolution struct {
	At   time.Time `json:"at"`
	Kind Kind      `json:"kind"`
}

// Resolver resolves descriptors in a fixed civil zone.
type Resolver struct {
	loc *time.Location
}

// NewResolver creates a resolver for the given IANA zone, falling back to
// DefaultTimezone and finally UTC when the zone cannot be loaded.
func NewResolver(timezone string) *Resolver {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc, err = time.LoadLocation(DefaultTimezone)
		if err != nil {
			loc = time.UTC
		}
	}
	return &Resolver{loc: loc}
}

// NewResolverInLocation creates a resolver bound to loc.
func NewResolverInLocation(loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{loc: loc}
}

// Location returns the resolver's civil zone.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// Resolve returns the absolute instant for descriptor relative to reference.
// It never fails: anything it cannot interpret resolves to reference + DefaultOffset.
// Absolute descriptors are returned verbatim, even when they are not in the future.
func (r *Resolver) Resolve(descriptor string, reference time.Time) time.Time {
	return r.ResolveDetailed(descriptor, reference).At
}

// ResolveDetailed is Resolve plus the rule that produced the instant.
func (r *Resolver) ResolveDetailed(descriptor string, reference time.Time) Resolution {
	ref := reference.In(r.loc)
	d := strings.TrimSpace(descriptor)

	if t, ok := r.parseAbsolute(d); ok {
		return Resolution{At: t, Kind: KindAbsolute}
	}

	switch strings.ToLower(d) {
	case "today":
		return Resolution{At: resolveToday(ref), Kind: KindToday}
	case "tomorrow":
		return Resolution{At: atHour(ref, 1, tomorrowHour), Kind: KindTomorrow}
	}

	if offset, ok := parseRelative(d); ok {
		return Resolution{At: ref.Add(offset), Kind: KindRelative}
	}

	return Resolution{At: ref.Add(DefaultOffset), Kind: KindDefault}
}

// Classify reports which rule Resolve would apply to descriptor.
func (r *Resolver) Classify(descriptor string) Kind {
	return r.ResolveDetailed(descriptor, time.Now()).Kind
}

func (r *Resolver) parseAbsolute(d string) (time.Time, bool) {
	if d == "" || d[0] < '0' || d[0] > '9' {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, d); err == nil {
		return t, true
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, d, r.loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func resolveToday(ref time.Time) time.Time {
	hour := ref.Hour()
	for _, w := range todayWindows {
		if hour < w.before {
			return atHour(ref, 0, w.target)
		}
	}
	return atHour(ref, 1, tomorrowHour)
}

// atHour returns hour:00 on the calendar day dayOffset days after ref, in ref's zone.
func atHour(ref time.Time, dayOffset, hour int) time.Time {
	y, m, d := ref.Date()
	return time.Date(y, m, d+dayOffset, hour, 0, 0, 0, ref.Location())
}

// parseRelative parses "<magnitude> <unit>", optionally prefixed with "in" or "after".
func parseRelative(d string) (time.Duration, bool) {
	fields := strings.Fields(strings.ToLower(d))
	if len(fields) > 0 && (fields[0] == "in" || fields[0] == "after") {
		fields = fields[1:]
	}
	if len(fields) < 2 {
		return 0, false
	}

	magnitude, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || magnitude < 0 || math.IsNaN(magnitude) || math.IsInf(magnitude, 0) {
		return 0, false
	}

	for _, u := range relativeUnits {
		if strings.Contains(fields[1], u.name) {
			offset := magnitude * float64(u.unit)
			// float64(MaxInt64) rounds up to 2^63, which does not fit a Duration.
			if offset >= math.MaxInt64 {
				return 0, false
			}
			return time.Duration(offset), true
		}
	}
	return 0, false
}
