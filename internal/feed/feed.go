// Package feed defines the contract between external data sources and the
// calendar sync pipeline: a Source fetches a raw payload and parses it into
// event drafts, with no calendar side effects of its own.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"
)

// fetchTimeout bounds every source fetch.
const fetchTimeout = 30 * time.Second

// EventDraft is an in-memory calendar event proposal. End is exclusive
// (day-after for all-day events). Prefix marks events this source owns on
// the target calendar; reconciliation deletes only events whose summary
// starts with a prefix produced by the current run.
type EventDraft struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Prefix      string
}

// Meta declares a source's stable key and its scheduling defaults, used to
// seed the configuration store on first startup.
type Meta struct {
	Key        string
	Name       string
	CalendarID string
	CronExpr   string
	Enabled    bool
}

// Source is one pluggable data function. Fetch and Parse are split so that
// parsing stays a pure transformation testable without the network.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	Parse(raw []byte) ([]EventDraft, error)
	Meta() Meta
}

// Fetch failure kinds, used for log classification.
const (
	FetchKindTimeout = "timeout"
	FetchKindStatus  = "status"
	FetchKindConnect = "connect"
)

// FetchError reports a failure reaching an external source.
type FetchError struct {
	Source string
	Kind   string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchKindStatus {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.Source, e.Status)
	}
	return fmt.Sprintf("fetch %s (%s): %v", e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a payload whose shape was not what the source expects.
// Per-record problems inside an otherwise well-formed payload are skipped
// with a warning instead.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// classifyFetchError wraps a transport error as a FetchError, separating
// timeouts from connection failures.
func classifyFetchError(source string, err error) *FetchError {
	kind := FetchKindConnect
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		kind = FetchKindTimeout
	}
	return &FetchError{Source: source, Kind: kind, Err: err}
}

// Registry is the immutable set of sources known at startup, keyed by
// their stable key.
type Registry struct {
	sources map[string]Source
}

func NewRegistry(sources ...Source) *Registry {
	m := make(map[string]Source, len(sources))
	for _, s := range sources {
		m[s.Meta().Key] = s
	}
	return &Registry{sources: m}
}

// Get returns the source for key, or nil if unknown.
func (r *Registry) Get(key string) Source {
	return r.sources[key]
}

// Keys returns all registered source keys, sorted.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.sources))
	for k := range r.sources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
