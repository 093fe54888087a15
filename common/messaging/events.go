package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LexiconIndonesia/ocr-worker-service/common/worker"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// EnsureStream ensures a stream exists with the specified subjects
func EnsureStream(ctx context.Context, client *NatsClient, name string, subjects []string) (jetstream.Stream, error) {
	stream, err := client.GetStream(ctx, name)
	if err != nil {
		if !errors.Is(err, jetstream.ErrStreamNotFound) && !strings.Contains(err.Error(), "stream not found") {
			log.Error().Err(err).Str("stream_name", name).Msg("Failed to get stream for unknown reasons")
			return nil, err
		}
		streamConfig := jetstream.StreamConfig{
			Name:     name,
			Subjects: subjects,
		}

		return client.CreateStream(ctx, streamConfig)
	}

	// Stream exists, let's update subjects if necessary
	info, err := stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream info: %w", err)
	}

	config := info.Config
	subjectSet := make(map[string]struct{}, len(config.Subjects))
	for _, s := range config.Subjects {
		subjectSet[s] = struct{}{}
	}

	hasNewSubjects := false
	for _, s := range subjects {
		if _, ok := subjectSet[s]; !ok {
			hasNewSubjects = true
			config.Subjects = append(config.Subjects, s)
		}
	}

	if !hasNewSubjects {
		log.Debug().Str("stream_name", name).Msg("No new subjects to add to stream")
		return stream, nil
	}

	log.Info().Strs("subjects", config.Subjects).Str("stream_name", name).Msg("Updating stream with new subjects")
	return client.CreateStream(ctx, config)
}

// EnsureJobEventStream creates the stream backing SubjectJobEvents
func EnsureJobEventStream(client *NatsClient) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := EnsureStream(ctx, client, StreamJobEvents, []string{SubjectJobEvents})
	return err
}

// Publisher publishes raw payloads to a subject
type Publisher interface {
	Publish(subject string, data []byte) error
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(subject string, data []byte) error

func (f PublisherFunc) Publish(subject string, data []byte) error {
	return f(subject, data)
}

// JetStreamPublisher publishes through JetStream when available and falls
// back to core NATS otherwise
func JetStreamPublisher(client *NatsClient) Publisher {
	return PublisherFunc(func(subject string, data []byte) error {
		if client.JetStreamEnabled() {
			_, err := client.PublishAsync(subject, data)
			return err
		}
		return client.Publish(subject, data)
	})
}

// EventObserver publishes a JobEvent for every settled job
type EventObserver struct {
	publisher Publisher
	subject   string
}

func NewEventObserver(publisher Publisher) *EventObserver {
	return &EventObserver{publisher: publisher, subject: SubjectJobEvents}
}

func (o *EventObserver) Dispatched(string, worker.Job) {}

func (o *EventObserver) Settled(workerID string, job worker.Job, status worker.Status, elapsed time.Duration, err error) {
	event := JobEvent{
		WorkerID:   workerID,
		JobID:      job.ID,
		Action:     job.Action,
		Status:     status,
		DurationMs: elapsed.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	o.publish(event)
}

func (o *EventObserver) Unmatched(string, worker.Message) {}

func (o *EventObserver) TransportFailed(workerID string, err error) {
	o.publish(JobEvent{
		WorkerID:  workerID,
		Status:    worker.StatusReject,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
}

func (o *EventObserver) publish(event JobEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode job event")
		return
	}
	if err := o.publisher.Publish(o.subject, data); err != nil {
		log.Warn().Err(err).Str("jobId", string(event.JobID)).Msg("Failed to publish job event")
	}
}
