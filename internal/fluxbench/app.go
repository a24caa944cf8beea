// Package fluxbench runs a load test against a publish/subscribe broker: a weighted population of publishers
// and subscribers is driven for the configured duration and every observed operation is aggregated into an
// end-of-run report.
package fluxbench

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/G-Research/fluxbench/internal/common"
	"github.com/G-Research/fluxbench/internal/common/build"
	commonconfig "github.com/G-Research/fluxbench/internal/common/config"
	"github.com/G-Research/fluxbench/internal/common/task"
	"github.com/G-Research/fluxbench/internal/common/util"
	"github.com/G-Research/fluxbench/internal/fluxbench/configuration"
	"github.com/G-Research/fluxbench/internal/fluxbench/metrics"
	"github.com/G-Research/fluxbench/internal/fluxbench/publisher"
	"github.com/G-Research/fluxbench/internal/fluxbench/scheduler"
	"github.com/G-Research/fluxbench/internal/fluxbench/subscriber"
	"github.com/G-Research/fluxbench/internal/fluxbench/topics"
)

const (
	publisherUserType  = "publisher"
	subscriberUserType = "subscriber"
	taskStopTimeout    = 5 * time.Second
)

const (
	topicStream int64 = iota
	thinkTimeStream
)

type App struct {
	// Parameters passed to the CLI by the user.
	Params *Params
	// Out is used to write the report. Defaults to standard out,
	// but can be overridden in tests to make assertions on the applications's output.
	Out io.Writer
}

// Params holds everything a run needs. It is populated from the config files, environment and flags.
type Params struct {
	Config configuration.FluxbenchConfig
}

// New instantiates an App with default parameters and standard output.
func New() *App {
	return &App{
		Params: &Params{},
		Out:    os.Stdout,
	}
}

// Version prints build information (e.g., current git commit) to the app output.
func (a *App) Version() error {
	w := tabwriter.NewWriter(a.Out, 1, 1, 1, ' ', 0)
	defer w.Flush()
	fmt.Fprintf(w, "Version:\t%s\n", build.ReleaseVersion)
	fmt.Fprintf(w, "Commit:\t%s\n", build.GitCommit)
	fmt.Fprintf(w, "Go version:\t%s\n", build.GoVersion)
	fmt.Fprintf(w, "Built:\t%s\n", build.BuildTime)
	return nil
}

// Run drives the simulated population until ctx is cancelled or the configured duration elapses, then prints
// the report to a.Out and, if configured, writes it to a file.
func (a *App) Run(ctx context.Context) (*metrics.RunReport, error) {
	config := a.Params.Config
	if err := config.Validate(); err != nil {
		commonconfig.LogValidationErrors(err)
		return nil, err
	}
	formatter, err := metrics.FormatterFor(config.Metrics.Report.Format)
	if err != nil {
		return nil, err
	}

	runId := util.NewULID()
	logger := log.WithField("runId", runId)
	sampler, err := topics.NewSampler(config.Topics.Prefix, config.Topics.Count, streamSeed(config.Seed, topicStream))
	if err != nil {
		return nil, err
	}
	logger.Debugf("topics: %s", strings.Join(sampler.Topics(), ", "))

	registry := prometheus.NewRegistry()
	stats := metrics.NewStats()
	if config.Metrics.Report.MaxDistinctErrors > 0 {
		stats.SetMaxDistinctErrors(config.Metrics.Report.MaxDistinctErrors)
	}
	consumers := []metrics.Consumer{stats, metrics.NewPrometheusConsumer(registry)}
	var natsConn *nats.Conn
	var exporter *metrics.NatsExporter
	if config.Export.Nats.Enabled {
		natsConn, err = metrics.ConnectNats(config.Export.Nats.Url, "fluxbench-"+runId)
		if err != nil {
			return nil, err
		}
		exporter = metrics.NewNatsExporter(natsConn, config.Export.Nats.Subject)
		consumers = append(consumers, exporter)
		logger.Infof("exporting events to nats subject %s", config.Export.Nats.Subject)
	}
	aggregator := metrics.NewAggregator(config.Metrics.EventBufferSize, consumers...)
	metrics.RegisterAggregatorMetrics(registry, aggregator)

	if config.Metrics.Port > 0 {
		shutdownMetricServer := common.ServeMetricsFor(config.Metrics.Port, prometheus.Gatherers{registry, prometheus.DefaultGatherer})
		defer shutdownMetricServer()
	}

	ids := subscriber.NewIdRegistry()
	sched, err := scheduler.New(userTypes(config, sampler, ids, aggregator), config.Users, streamSeed(config.Seed, thinkTimeStream))
	if err != nil {
		return nil, err
	}

	taskManager := task.NewBackgroundTaskManager(metrics.MetricPrefix, registry)
	if config.Metrics.ProgressInterval > 0 {
		taskManager.Register(func() {
			logger.Infof("%d active users, %d events (%d dropped), %d publishes, %d subscriber ids issued, %d messages received",
				sched.ActiveUsers(),
				aggregator.Emitted(),
				aggregator.Dropped(),
				stats.Count(metrics.Publish),
				ids.Len(),
				stats.Count(metrics.RecvMessage))
		}, config.Metrics.ProgressInterval, "progress")
	}

	logger.Infof("starting run with %d users on %d topics against %s and %s",
		config.Users, sampler.Len(), config.PublishEndpoint, config.SubscribeEndpoint)
	start := time.Now()
	runCtx := ctx
	if config.Duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, config.Duration)
		defer cancel()
	}

	// The aggregator outlives the scheduler so events emitted while users stop are still counted.
	aggregatorCtx, stopAggregator := context.WithCancel(context.Background())
	defer stopAggregator()
	g, groupCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return aggregator.Run(aggregatorCtx)
	})
	g.Go(func() error {
		defer stopAggregator()
		return sched.Run(groupCtx)
	})
	runErr := g.Wait()
	elapsed := time.Since(start)

	var result *multierror.Error
	if runErr != nil {
		result = multierror.Append(result, errors.WithMessage(runErr, "stopping users"))
	}
	if taskManager.StopAll(taskStopTimeout) {
		logger.Warnf("background tasks did not stop within %s", taskStopTimeout)
	}
	if natsConn != nil {
		if err := natsConn.Flush(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "flushing nats export"))
		}
		natsConn.Close()
	}

	report := stats.GenerateReport(runId, elapsed, aggregator.Dropped())
	report.Users = sched.Distribution()
	if exporter != nil {
		report.ExportFailures = exporter.Failures()
	}
	report.Print(a.Out)
	if config.Metrics.Report.Path != "" {
		if err := report.WriteToFile(config.Metrics.Report.Path, formatter); err != nil {
			result = multierror.Append(result, err)
		} else {
			logger.Infof("report written to %s", config.Metrics.Report.Path)
		}
	}
	return report, result.ErrorOrNil()
}

// streamSeed derives the seed of one random stream from the configured seed, so that a fixed seed does not
// give every stream the same sequence. Zero stays zero and means seed from the clock.
func streamSeed(seed int64, stream int64) int64 {
	if seed == 0 {
		return 0
	}
	if derived := seed + stream; derived != 0 {
		return derived
	}
	return seed - stream
}

func userTypes(config configuration.FluxbenchConfig, sampler *topics.Sampler, ids *subscriber.IdRegistry, sink metrics.Sink) []scheduler.UserType {
	maxConns := int(config.Publisher.MaxConcurrency)
	if maxConns == 0 {
		maxConns = config.Users
	}
	client := publisher.NewHttpClient(maxConns)
	publisherConfig := publisher.Config{
		Endpoint:       config.PublishEndpoint,
		Content:        config.Publisher.Content,
		RequestTimeout: config.Publisher.RequestTimeout,
	}

	subscriberConfig := subscriber.Config{
		Endpoint:          config.SubscribeEndpoint,
		HandshakeTimeout:  config.Subscriber.HandshakeTimeout,
		IdPrefix:          config.Subscriber.IdPrefix,
		KeepaliveInterval: config.Subscriber.KeepaliveInterval,
		Reconnect: subscriber.ReconnectConfig{
			MaxAttempts: config.Subscriber.Reconnect.MaxAttempts,
			Delay:       config.Subscriber.Reconnect.Delay,
			MaxDelay:    config.Subscriber.Reconnect.MaxDelay,
		},
	}

	return []scheduler.UserType{
		{
			Name:           publisherUserType,
			Weight:         config.Publisher.Weight,
			MinWait:        config.Publisher.MinWait,
			MaxWait:        config.Publisher.MaxWait,
			MaxConcurrency: config.Publisher.MaxConcurrency,
			NewUser: func() scheduler.User {
				return publisher.New(publisherConfig, client, sampler, sink)
			},
		},
		{
			Name:    subscriberUserType,
			Weight:  config.Subscriber.Weight,
			MinWait: config.Subscriber.MinWait,
			MaxWait: config.Subscriber.MaxWait,
			NewUser: func() scheduler.User {
				return subscriber.New(subscriberConfig, sampler, ids, sink)
			},
		},
	}
}
