package configuration

import (
	"time"
)

type FluxbenchConfig struct {
	// URL of the broker's ingestion endpoint, e.g. http://127.0.0.1:51009/publish
	PublishEndpoint string `validate:"required,url"`
	// URL of the broker's websocket subscription endpoint, e.g. ws://127.0.0.1:51009/subscribe
	SubscribeEndpoint string `validate:"required,url"`
	// Total number of simulated users, split between publishers and subscribers by weight
	Users int `validate:"gt=0"`
	// How long the run lasts. Zero runs until interrupted
	Duration time.Duration `validate:"gte=0"`
	// Seed for topic and think-time sampling. Zero seeds from the clock
	Seed int64

	Topics     TopicsConfig
	Publisher  PublisherConfig
	Subscriber SubscriberConfig
	Metrics    MetricsConfig
	Export     ExportConfig
	Logging    LoggingConfig
}

type TopicsConfig struct {
	Count  int `validate:"gt=0"`
	Prefix string
}

type PublisherConfig struct {
	Weight  float64       `validate:"gte=0"`
	MinWait time.Duration `validate:"gte=0"`
	MaxWait time.Duration `validate:"gte=0"`
	// Content placed in every envelope
	Content string
	// Bounds a single publish request. Zero means no timeout
	RequestTimeout time.Duration `validate:"gte=0"`
	// Maximum number of publish requests in flight at once. Zero is unbounded
	MaxConcurrency int64 `validate:"gte=0"`
}

type SubscriberConfig struct {
	Weight            float64       `validate:"gte=0"`
	MinWait           time.Duration `validate:"gte=0"`
	MaxWait           time.Duration `validate:"gte=0"`
	KeepaliveInterval time.Duration `validate:"gt=0"`
	// Bounds dialling the subscription endpoint plus sending the handshake
	HandshakeTimeout time.Duration `validate:"gt=0"`
	IdPrefix         string
	Reconnect        ReconnectConfig
}

type ReconnectConfig struct {
	// Zero disables reconnection, so a dropped subscription stays closed
	MaxAttempts uint
	Delay       time.Duration `validate:"gte=0"`
	MaxDelay    time.Duration `validate:"gte=0"`
}

type MetricsConfig struct {
	// Port to expose Prometheus metrics on. Zero disables the metrics server
	Port uint16
	// Capacity of the event buffer between agents and the aggregator. Events are dropped when it is full
	EventBufferSize int `validate:"gt=0"`
	// How often progress is logged. Zero disables progress logging
	ProgressInterval time.Duration `validate:"gte=0"`
	Report           ReportConfig
}

type ReportConfig struct {
	// If set, the end-of-run report is also written here
	Path   string
	Format string `validate:"omitempty,oneof=yaml json"`
	// Distinct error messages kept in the report; further messages are only counted
	MaxDistinctErrors int `validate:"gte=0"`
}

type ExportConfig struct {
	Nats NatsExportConfig
}

type NatsExportConfig struct {
	Enabled bool
	Url     string `validate:"required_if=Enabled true"`
	Subject string `validate:"required_if=Enabled true"`
}

type LoggingConfig struct {
	Level string `validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
}
