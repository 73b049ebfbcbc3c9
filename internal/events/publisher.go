// Package events publishes lab progress to NATS so other tools can follow an
// operation without scraping the terminal.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/Josepavese/nidolab/internal/orchestrator"
)

// DefaultSubject is the subject prefix events are published under.
const DefaultSubject = "nidolab.progress"

type publisher interface {
	Publish(subject string, data []byte) error
}

// Message is the JSON body of one published event.
type Message struct {
	OperationID string `json:"operation_id"`
	Lab         string `json:"lab,omitempty"`
	Timestamp   string `json:"timestamp"`
	Error       string `json:"error,omitempty"`
	orchestrator.Event
}

// Publisher is a progress sink that forwards every event to NATS on
// <subject>.<op>. Publish failures are logged and never reach the
// orchestrator.
type Publisher struct {
	nc          *nats.Conn
	pub         publisher
	subject     string
	lab         string
	operationID string
	log         *log.Entry
}

// NewPublisher connects to url. Each Publisher tags its events with a fresh
// operation id.
func NewPublisher(url, subject, lab string) (*Publisher, error) {
	logger := log.WithField("component", "events")
	opts := []nats.Option{
		nats.Name("nidolab"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithField("error", err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	p := newPublisher(nc, subject, lab)
	p.nc = nc
	return p, nil
}

func newPublisher(pub publisher, subject, lab string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	id := uuid.New().String()
	return &Publisher{
		pub:         pub,
		subject:     subject,
		lab:         lab,
		operationID: id,
		log:         log.WithFields(log.Fields{"component": "events", "operation_id": id}),
	}
}

// OperationID returns the id attached to every event.
func (p *Publisher) OperationID() string { return p.operationID }

// Subject returns the subject e is published on.
func (p *Publisher) Subject(e orchestrator.Event) string {
	return p.subject + "." + string(e.Op)
}

// Payload builds the JSON body for e.
func (p *Publisher) Payload(e orchestrator.Event) ([]byte, error) {
	m := Message{
		OperationID: p.operationID,
		Lab:         p.lab,
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		Event:       e,
	}
	if e.Err != nil {
		m.Error = e.Err.Error()
	}
	return json.Marshal(m)
}

// Progress publishes e.
func (p *Publisher) Progress(e orchestrator.Event) {
	if p.nc != nil && p.nc.IsClosed() {
		return
	}
	data, err := p.Payload(e)
	if err != nil {
		p.log.WithField("error", err).Warn("encode progress event")
		return
	}
	if err := p.pub.Publish(p.Subject(e), data); err != nil {
		p.log.WithFields(log.Fields{"error": err, "kind": e.Kind}).Warn("publish progress event")
	}
}

// Close flushes pending events and closes the connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.nc.Close()
		}
	}
}
