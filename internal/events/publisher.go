// Package events publishes pipeline events on NATS JetStream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	StreamName     = "MAINTENANCE"
	StreamSubjects = "maintenance.>"

	SubjectFindingCreated      = "maintenance.finding.created"
	SubjectTaskCreated         = "maintenance.task.created"
	SubjectMeasurementRecorded = "maintenance.measurement.recorded"
	SubjectTaskEvaluated       = "maintenance.task.evaluated"
	SubjectRunCompleted        = "maintenance.run.completed"
)

// Event is the envelope published on every subject
type Event struct {
	Subject   string          `json:"subject"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Publisher emits pipeline events
type Publisher interface {
	Publish(ctx context.Context, subject string, v interface{}) error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, interface{}) error { return nil }

// JetStreamPublisher publishes events to the MAINTENANCE stream
type JetStreamPublisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewJetStreamPublisher ensures the stream exists and returns a publisher.
func NewJetStreamPublisher(js nats.JetStreamContext, logger *zap.Logger) (*JetStreamPublisher, error) {
	p := &JetStreamPublisher{
		js:     js,
		logger: logger.Named("events"),
	}
	if err := p.setup(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *JetStreamPublisher) setup() error {
	streamInfo, err := p.js.StreamInfo(StreamName)
	if err != nil && err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	if streamInfo == nil {
		_, err = p.js.AddStream(&nats.StreamConfig{
			Name:       StreamName,
			Subjects:   []string{StreamSubjects},
			Retention:  nats.LimitsPolicy,
			MaxAge:     7 * 24 * time.Hour,
			MaxMsgs:    -1,
			MaxBytes:   -1,
			Discard:    nats.DiscardOld,
			MaxMsgSize: 1 * 1024 * 1024,
			Storage:    nats.FileStorage,
			Replicas:   1,
			Duplicates: time.Hour,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream %s: %w", StreamName, err)
		}
		p.logger.Info("Created stream", zap.String("name", StreamName))
		return nil
	}

	config := streamInfo.Config
	config.Subjects = []string{StreamSubjects}
	config.MaxAge = 7 * 24 * time.Hour
	if _, err := p.js.UpdateStream(&config); err != nil {
		return fmt.Errorf("failed to update stream %s: %w", StreamName, err)
	}
	p.logger.Info("Updated stream", zap.String("name", StreamName))
	return nil
}

func (p *JetStreamPublisher) Publish(ctx context.Context, subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	envelope, err := json.Marshal(Event{
		Subject:   subject,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.js.Publish(subject, envelope, nats.Context(ctx)); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("subject", subject),
			zap.Error(err))
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	p.logger.Debug("Event published", zap.String("subject", subject))
	return nil
}

// Subscribe delivers decoded envelopes for subject until ctx is done.
func (p *JetStreamPublisher) Subscribe(ctx context.Context, subject string, handler func(Event)) error {
	sub, err := p.js.Subscribe(subject, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			p.logger.Error("Failed to unmarshal event", zap.Error(err))
			return
		}
		handler(ev)
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()
	return nil
}
