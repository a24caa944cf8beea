package metrics

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func populatedStats() *Stats {
	s := NewStats()
	s.Consume(Event{RequestType: RequestTypeHttp, Name: Publish, ResponseTimeMs: 10, ResponseLength: 30})
	s.Consume(Event{RequestType: RequestTypeHttp, Name: Publish, ResponseTimeMs: 20, ResponseLength: 30})
	s.Consume(Event{RequestType: RequestTypeHttp, Name: PublishErr, Error: "returned status 500"})
	s.Consume(Event{RequestType: RequestTypeWs, Name: Subscribe})
	s.Consume(Event{RequestType: RequestTypeWs, Name: RecvMessage, ResponseTimeMs: 5, ResponseLength: 80})
	return s
}

func TestStats_GenerateReport(t *testing.T) {
	report := populatedStats().GenerateReport("run-1", 2*time.Second, 3)

	assert.Equal(t, "run-1", report.RunId)
	assert.Equal(t, int64(3), report.DroppedEvents)
	require.Len(t, report.Events, 4)

	// Sorted by request type then name.
	assert.Equal(t, Publish, report.Events[0].Name)
	assert.Equal(t, PublishErr, report.Events[1].Name)
	assert.Equal(t, RecvMessage, report.Events[2].Name)
	assert.Equal(t, Subscribe, report.Events[3].Name)

	publish := report.Find(RequestTypeHttp, Publish)
	require.NotNil(t, publish)
	assert.Equal(t, 2, publish.Count)
	assert.Equal(t, int64(60), publish.TotalBytes)
	assert.Equal(t, 1.0, publish.RatePerSecond)
	assert.Equal(t, 15.0, publish.Latency.Average)

	publishErr := report.Find(RequestTypeHttp, PublishErr)
	require.NotNil(t, publishErr)
	assert.Equal(t, map[string]int{"returned status 500": 1}, publishErr.Errors)

	assert.Nil(t, report.Find(RequestTypeWs, RecvMessageErr))
}

func TestStats_Count(t *testing.T) {
	s := populatedStats()
	assert.Equal(t, 2, s.Count(Publish))
	assert.Equal(t, 1, s.Count(RecvMessage))
	assert.Equal(t, 0, s.Count(RecvMessageErr))
}

func TestStats_CancelledFailuresKeptOutOfSeries(t *testing.T) {
	s := populatedStats()
	s.Consume(Event{RequestType: RequestTypeHttp, Name: PublishErr, Error: "context canceled", Cancelled: true})
	s.Consume(Event{RequestType: RequestTypeHttp, Name: PublishErr, Error: "context canceled", Cancelled: true})
	s.Consume(Event{RequestType: RequestTypeWs, Name: SubscribeErr, Error: "context canceled", Cancelled: true})

	report := s.GenerateReport("run", time.Second, 0)

	assert.Equal(t, map[EventName]int{PublishErr: 2, SubscribeErr: 1}, report.CancelledEvents)
	publishErr := report.Find(RequestTypeHttp, PublishErr)
	require.NotNil(t, publishErr)
	assert.Equal(t, 1, publishErr.Count)
	assert.Equal(t, map[string]int{"returned status 500": 1}, publishErr.Errors)
	assert.Nil(t, report.Find(RequestTypeWs, SubscribeErr))

	out := &bytes.Buffer{}
	report.Print(out)
	assert.Contains(t, out.String(), "2 x publish_err")
	assert.Contains(t, out.String(), "1 x subscribe_err")
}

func TestStats_MaxDistinctErrors(t *testing.T) {
	s := NewStats()
	s.SetMaxDistinctErrors(2)
	for _, message := range []string{"a", "b", "a", "c", "d"} {
		s.Consume(Event{RequestType: RequestTypeWs, Name: SubscribeErr, Error: message})
	}

	report := s.GenerateReport("run", time.Second, 0)
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, report.Find(RequestTypeWs, SubscribeErr).Errors)
	assert.Equal(t, 2, report.UncountedError)
	assert.Equal(t, 5, report.Find(RequestTypeWs, SubscribeErr).Count)
}

func TestRunReport_Print(t *testing.T) {
	report := populatedStats().GenerateReport("run-1", time.Second, 2)
	report.Users = map[string]int{"subscriber": 8, "publisher": 2}
	report.ExportFailures = 4
	out := &bytes.Buffer{}

	report.Print(out)

	assert.Contains(t, out.String(), "Run run-1 finished after 1s")
	assert.Contains(t, out.String(), "recv_message")
	assert.Contains(t, out.String(), "1 x publish_err: returned status 500")
	assert.Contains(t, out.String(), "2 events were dropped")
	assert.Contains(t, out.String(), "2 publisher users\n8 subscriber users")
	assert.Contains(t, out.String(), "4 events could not be exported")
}

func TestRunReport_Formats(t *testing.T) {
	report := populatedStats().GenerateReport("run-1", time.Second, 0)

	yamlFormatter, err := FormatterFor("yaml")
	require.NoError(t, err)
	b, err := report.Generate(yamlFormatter)
	require.NoError(t, err)
	var fromYaml RunReport
	require.NoError(t, yaml.Unmarshal(b, &fromYaml))
	assert.Equal(t, "run-1", fromYaml.RunId)
	assert.Len(t, fromYaml.Events, 4)

	jsonFormatter, err := FormatterFor("json")
	require.NoError(t, err)
	b, err = report.Generate(jsonFormatter)
	require.NoError(t, err)
	var fromJson RunReport
	require.NoError(t, json.Unmarshal(b, &fromJson))
	assert.Equal(t, "run-1", fromJson.RunId)

	_, err = FormatterFor("xml")
	assert.Error(t, err)
}

func TestRunReport_WriteToFile(t *testing.T) {
	report := populatedStats().GenerateReport("run-1", time.Second, 0)
	path := filepath.Join(t.TempDir(), "results", "report.yaml")

	require.NoError(t, report.WriteToFile(path, nil))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "runId: run-1")
}

func TestRunReport_WriteToFile_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	defer func() { homedir.DisableCache = false }()
	report := populatedStats().GenerateReport("run-2", time.Second, 0)

	require.NoError(t, report.WriteToFile("~/reports/run.yaml", nil))

	b, err := os.ReadFile(filepath.Join(home, "reports", "run.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "runId: run-2")
}
