package metrics

import (
	"encoding/json"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// NatsPublisher is the subset of *nats.Conn used by NatsExporter.
type NatsPublisher interface {
	Publish(subject string, data []byte) error
}

// NatsExporter forwards every event as JSON to a NATS subject so it can be aggregated outside this process.
// Publish failures are counted and logged once; they never reach the agents.
type NatsExporter struct {
	conn     NatsPublisher
	subject  string
	failures int64
}

func NewNatsExporter(conn NatsPublisher, subject string) *NatsExporter {
	return &NatsExporter{
		conn:    conn,
		subject: subject,
	}
}

// ConnectNats opens a connection for the exporter.
func ConnectNats(url string, clientName string) (*nats.Conn, error) {
	conn, err := nats.Connect(url, nats.Name(clientName), nats.MaxReconnects(-1))
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to nats at %s", url)
	}
	return conn, nil
}

func (e *NatsExporter) Consume(event Event) {
	data, err := json.Marshal(event)
	if err == nil {
		err = e.conn.Publish(e.subject, data)
	}
	if err != nil {
		if atomic.AddInt64(&e.failures, 1) == 1 {
			log.WithError(err).Warnf("Failed to export metric event to nats subject %s, further failures are only counted", e.subject)
		}
	}
}

func (e *NatsExporter) Failures() int64 {
	return atomic.LoadInt64(&e.failures)
}
