// Package publisher simulates producers that submit envelopes to the broker's ingestion endpoint.
package publisher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"k8s.io/utils/clock"

	"github.com/G-Research/fluxbench/internal/common/util"
	"github.com/G-Research/fluxbench/internal/fluxbench/fluxerrors"
	"github.com/G-Research/fluxbench/internal/fluxbench/message"
	"github.com/G-Research/fluxbench/internal/fluxbench/metrics"
)

type Config struct {
	// Endpoint is the full URL of the ingestion endpoint, e.g. http://127.0.0.1:51009/publish.
	Endpoint string
	// Content is placed in every envelope.
	Content string
	// RequestTimeout bounds a single publish request. Zero means no timeout beyond the caller's context.
	RequestTimeout time.Duration
}

// TopicSource picks the topic for each publish.
type TopicSource interface {
	Next() string
}

// Publisher is a simulated producer. One Publisher may be driven by many goroutines at once; it holds no
// per-request state.
type Publisher struct {
	config Config
	client *http.Client
	topics TopicSource
	sink   metrics.Sink
	clock  clock.PassiveClock
}

func New(config Config, client *http.Client, topics TopicSource, sink metrics.Sink) *Publisher {
	if config.Content == "" {
		config.Content = message.DefaultContent
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Publisher{
		config: config,
		client: client,
		topics: topics,
		sink:   sink,
		clock:  clock.RealClock{},
	}
}

// NewHttpClient returns a client whose connection pool is sized for maxConnsPerHost concurrent publishers.
func NewHttpClient(maxConnsPerHost int) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if maxConnsPerHost > 0 {
		transport.MaxIdleConns = maxConnsPerHost
		transport.MaxIdleConnsPerHost = maxConnsPerHost
	}
	return &http.Client{Transport: transport}
}

// Publish sends one envelope to a random topic and emits exactly one publish or publish_err event.
// Failures are never retried and never returned.
func (p *Publisher) Publish(ctx context.Context) {
	topic := p.topics.Next()
	start := p.clock.Now()
	length, err := p.send(ctx, topic, start)
	metrics.Record(p.sink, metrics.RequestTypeHttp, metrics.Publish, metrics.Outcome{
		ResponseTimeMs: float64(p.clock.Since(start)) / float64(time.Millisecond),
		ResponseLength: length,
		Err:            err,
		Cancelled:      err != nil && ctx.Err() != nil,
	})
}

func (p *Publisher) send(ctx context.Context, topic string, now time.Time) (int, error) {
	body, err := message.NewPublishRequest(topic, message.NewEnvelope(p.config.Content, now))
	if err != nil {
		return 0, p.publishError(topic, 0, err)
	}

	if p.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.RequestTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, p.publishError(topic, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, p.publishError(topic, 0, err)
	}
	defer util.CloseResource("publish response body", resp.Body)

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return int(n), p.publishError(topic, 0, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return int(n), p.publishError(topic, resp.StatusCode, nil)
	}
	return int(n), nil
}

func (p *Publisher) publishError(topic string, statusCode int, cause error) error {
	return &fluxerrors.ErrPublish{
		Endpoint:   p.config.Endpoint,
		Topic:      topic,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// Start is a no-op; publishers hold no connection of their own.
func (p *Publisher) Start(_ context.Context) error {
	return nil
}

// Task runs one publish.
func (p *Publisher) Task(ctx context.Context) {
	p.Publish(ctx)
}

func (p *Publisher) Stop() error {
	return nil
}
