package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v2"
)

// RunReport is the end of run summary.
type RunReport struct {
	RunId    string        `json:"runId" yaml:"runId"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	// Users is the number of simulated users of each type.
	Users          map[string]int `json:"users,omitempty" yaml:"users,omitempty"`
	DroppedEvents  int64          `json:"droppedEvents" yaml:"droppedEvents"`
	ExportFailures int64          `json:"exportFailures,omitempty" yaml:"exportFailures,omitempty"`
	UncountedError int            `json:"uncountedErrors" yaml:"uncountedErrors"`
	// CancelledEvents counts failures caused by the run stopping. They are not part of Events.
	CancelledEvents map[EventName]int `json:"cancelledEvents,omitempty" yaml:"cancelledEvents,omitempty"`
	Events          []*EventReport    `json:"events" yaml:"events"`
}

type EventReport struct {
	RequestType   RequestType    `json:"requestType" yaml:"requestType"`
	Name          EventName      `json:"name" yaml:"name"`
	Count         int            `json:"count" yaml:"count"`
	TotalBytes    int64          `json:"totalBytes" yaml:"totalBytes"`
	RatePerSecond float64        `json:"ratePerSecond" yaml:"ratePerSecond"`
	Latency       *Statistics    `json:"latencyMs" yaml:"latencyMs"`
	Errors        map[string]int `json:"errors,omitempty" yaml:"errors,omitempty"`
}

type Formatter func(interface{}) ([]byte, error)

var (
	YamlFormatter Formatter = yaml.Marshal
	JsonFormatter Formatter = func(v interface{}) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }
)

// FormatterFor returns the formatter for "yaml" or "json".
func FormatterFor(format string) (Formatter, error) {
	switch format {
	case "", "yaml":
		return YamlFormatter, nil
	case "json":
		return JsonFormatter, nil
	default:
		return nil, errors.Errorf("unknown report format %q", format)
	}
}

// Find returns the report for the given event name, or nil.
func (r *RunReport) Find(requestType RequestType, name EventName) *EventReport {
	for _, e := range r.Events {
		if e.RequestType == requestType && e.Name == name {
			return e
		}
	}
	return nil
}

// Print writes a human readable table of the report to out.
func (r *RunReport) Print(out io.Writer) {
	_, _ = fmt.Fprintf(out, "\nRun %s finished after %s\n", r.RunId, r.Duration)
	if len(r.Users) > 0 {
		types := maps.Keys(r.Users)
		slices.Sort(types)
		for _, userType := range types {
			_, _ = fmt.Fprintf(out, "%d %s users\n", r.Users[userType], userType)
		}
	}
	w := tabwriter.NewWriter(out, 1, 1, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "type\tname\tcount\trate/s\tbytes\tmin ms\tavg ms\tp50 ms\tp95 ms\tp99 ms\tmax ms\n")
	for _, e := range r.Events {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%.1f\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\n",
			e.RequestType, e.Name, e.Count, e.RatePerSecond, e.TotalBytes,
			e.Latency.Min, e.Latency.Average, e.Latency.P50, e.Latency.P95, e.Latency.P99, e.Latency.Max)
	}
	_ = w.Flush()
	r.printErrors(out)
	if len(r.CancelledEvents) > 0 {
		names := maps.Keys(r.CancelledEvents)
		slices.Sort(names)
		_, _ = fmt.Fprintf(out, "\nCancelled when the run stopped:\n")
		for _, name := range names {
			_, _ = fmt.Fprintf(out, "\t%d x %s\n", r.CancelledEvents[name], name)
		}
	}
	if r.DroppedEvents > 0 {
		_, _ = fmt.Fprintf(out, "\n%d events were dropped because the metric buffer was full\n", r.DroppedEvents)
	}
	if r.ExportFailures > 0 {
		_, _ = fmt.Fprintf(out, "%d events could not be exported\n", r.ExportFailures)
	}
}

func (r *RunReport) printErrors(out io.Writer) {
	var lines []string
	for _, e := range r.Events {
		for message, count := range e.Errors {
			lines = append(lines, fmt.Sprintf("\t%d x %s: %s", count, e.Name, message))
		}
	}
	if len(lines) == 0 {
		return
	}
	slices.Sort(lines)
	_, _ = fmt.Fprintf(out, "\nErrors:\n")
	for _, line := range lines {
		_, _ = fmt.Fprintln(out, line)
	}
	if r.UncountedError > 0 {
		_, _ = fmt.Fprintf(out, "\t%d further errors with other messages\n", r.UncountedError)
	}
}

func (r *RunReport) Generate(formatter Formatter) ([]byte, error) {
	if formatter == nil {
		formatter = YamlFormatter
	}
	b, err := formatter(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return b, nil
}

// WriteToFile writes the report to path, creating parent directories as needed. A leading ~ is expanded to
// the user's home directory.
func (r *RunReport) WriteToFile(path string, formatter Formatter) error {
	b, err := r.Generate(formatter)
	if err != nil {
		return err
	}
	path, err = homedir.Expand(path)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating directory for %s", path)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return errors.Wrapf(err, "writing report to %s", path)
	}
	return nil
}
