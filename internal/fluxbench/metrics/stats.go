package metrics

import (
	"sync"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const defaultMaxDistinctErrors = 20

type seriesKey struct {
	requestType RequestType
	name        EventName
}

type series struct {
	count      int
	totalBytes int64
	latencies  []float64
	errors     map[string]int
}

// Stats keeps every event's latency in memory, grouped by request type and name, for the end of run report.
type Stats struct {
	mu                sync.Mutex
	series            map[seriesKey]*series
	maxDistinctErrors int
	otherErrors       int
	cancelled         map[EventName]int
}

func NewStats() *Stats {
	return &Stats{
		series:            make(map[seriesKey]*series),
		maxDistinctErrors: defaultMaxDistinctErrors,
		cancelled:         make(map[EventName]int),
	}
}

// SetMaxDistinctErrors bounds how many different error messages are kept. Further messages are only counted.
func (s *Stats) SetMaxDistinctErrors(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxDistinctErrors = n
}

// Consume records event. Failures caused by the run stopping are only counted, so the latency and error
// figures describe the broker.
func (s *Stats) Consume(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.Cancelled {
		s.cancelled[event.Name]++
		return
	}
	key := seriesKey{requestType: event.RequestType, name: event.Name}
	entry, ok := s.series[key]
	if !ok {
		entry = &series{errors: make(map[string]int)}
		s.series[key] = entry
	}
	entry.count++
	entry.totalBytes += int64(event.ResponseLength)
	entry.latencies = append(entry.latencies, event.ResponseTimeMs)
	if event.Error != "" {
		if _, seen := entry.errors[event.Error]; seen || s.distinctErrors() < s.maxDistinctErrors {
			entry.errors[event.Error]++
		} else {
			s.otherErrors++
		}
	}
}

func (s *Stats) distinctErrors() int {
	n := 0
	for _, entry := range s.series {
		n += len(entry.errors)
	}
	return n
}

// Count returns the number of events seen with the given name, across request types.
func (s *Stats) Count(name EventName) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for key, entry := range s.series {
		if key.name == name {
			total += entry.count
		}
	}
	return total
}

// GenerateReport summarises the events recorded over a run of the given duration.
func (s *Stats) GenerateReport(runId string, duration time.Duration, droppedEvents int64) *RunReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &RunReport{
		RunId:          runId,
		Duration:       duration,
		DroppedEvents:  droppedEvents,
		UncountedError: s.otherErrors,
	}
	if len(s.cancelled) > 0 {
		report.CancelledEvents = maps.Clone(s.cancelled)
	}
	for key, entry := range s.series {
		eventReport := &EventReport{
			RequestType: key.requestType,
			Name:        key.name,
			Count:       entry.count,
			TotalBytes:  entry.totalBytes,
			Latency:     statistics(entry.latencies),
		}
		if duration > 0 {
			eventReport.RatePerSecond = float64(entry.count) / duration.Seconds()
		}
		if len(entry.errors) > 0 {
			eventReport.Errors = maps.Clone(entry.errors)
		}
		report.Events = append(report.Events, eventReport)
	}
	slices.SortFunc(report.Events, func(a, b *EventReport) bool {
		if a.RequestType != b.RequestType {
			return a.RequestType < b.RequestType
		}
		return a.Name < b.Name
	})
	return report
}
