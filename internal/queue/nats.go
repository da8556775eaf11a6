// Package queue is the reference implementation of the job-system contract
// chronoforge depends on as an external collaborator: enqueue_now and
// enqueue_after, backed by an embeddable NATS server and JetStream.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/radioactive-labs/chrono-forge/internal/logging"
	"github.com/radioactive-labs/chrono-forge/pkg/chronoforge"
)

const streamName = "CHRONOFORGE_JOBS"

// message is the wire envelope published for one enqueue, carrying enough
// to reconstruct a Driver.Perform call on delivery.
type message struct {
	JobClass      string         `json:"job_class"`
	Key           string         `json:"key"`
	Attempt       int            `json:"attempt"`
	RetryWorkflow bool           `json:"retry_workflow"`
	Options       map[string]any `json:"options,omitempty"`
	Kwargs        map[string]any `json:"kwargs,omitempty"`
}

func subjectFor(jobClass string) string {
	return "chronoforge.jobs." + jobClass
}

// Options configures an embedded NATS server. Options.Embedded=false
// connects to an already-running server at Options.URL instead.
type Options struct {
	Embedded bool
	URL      string
	StoreDir string
}

// Queue is a chronoforge.Queue backed by NATS JetStream. JetStream has no
// native delayed-delivery primitive, so EnqueueAfter schedules an
// in-process timer that publishes once the delay elapses. A delayed enqueue
// whose timer has not fired when the process exits is lost.
type Queue struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	srv     *server.Server
	stream  jetstream.Stream
	timers  sync.WaitGroup
	closing chan struct{}
}

var _ chronoforge.Queue = (*Queue)(nil)

// New connects to NATS (embedding a server first if opts.Embedded) and
// ensures the job stream exists.
func New(ctx context.Context, opts Options) (*Queue, error) {
	q := &Queue{closing: make(chan struct{})}

	url := opts.URL
	if opts.Embedded {
		srvOpts := &server.Options{
			JetStream: true,
			StoreDir:  opts.StoreDir,
			Port:      server.RANDOM_PORT,
		}
		srv, err := server.NewServer(srvOpts)
		if err != nil {
			return nil, fmt.Errorf("chronoforge: starting embedded NATS server: %w", err)
		}
		srv.Start()
		if !srv.ReadyForConnections(10 * time.Second) {
			return nil, fmt.Errorf("chronoforge: embedded NATS server did not become ready")
		}
		q.srv = srv
		url = srv.ClientURL()
	}

	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("chronoforge: connecting to NATS at %s: %w", url, err)
	}
	q.nc = nc

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("chronoforge: creating JetStream context: %w", err)
	}
	q.js = js

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"chronoforge.jobs.>"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("chronoforge: creating job stream: %w", err)
	}
	q.stream = stream

	return q, nil
}

// EnqueueNow publishes an immediate re-entry message.
func (q *Queue) EnqueueNow(ctx context.Context, jobClass, key string, payload chronoforge.JobPayload) error {
	return q.publish(ctx, jobClass, key, payload)
}

// EnqueueAfter schedules publication after delay via an in-process timer.
func (q *Queue) EnqueueAfter(ctx context.Context, delay time.Duration, jobClass, key string, payload chronoforge.JobPayload) error {
	if delay <= 0 {
		return q.publish(ctx, jobClass, key, payload)
	}

	q.timers.Add(1)
	timer := time.AfterFunc(delay, func() {
		defer q.timers.Done()
		select {
		case <-q.closing:
			return
		default:
		}
		if err := q.publish(context.Background(), jobClass, key, payload); err != nil {
			logging.Error("chronoforge: delayed enqueue of %s/%s failed: %v", jobClass, key, err)
		}
	})
	_ = timer
	return nil
}

func (q *Queue) publish(ctx context.Context, jobClass, key string, payload chronoforge.JobPayload) error {
	msg := message{
		JobClass:      jobClass,
		Key:           key,
		Attempt:       payload.Attempt,
		RetryWorkflow: payload.RetryWorkflow,
		Options:       payload.Options,
		Kwargs:        payload.Kwargs,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("chronoforge: marshaling job message: %w", err)
	}
	_, err = q.js.Publish(ctx, subjectFor(jobClass), b)
	if err != nil {
		return fmt.Errorf("chronoforge: publishing job message: %w", err)
	}
	return nil
}

// Subscribe delivers every message published for jobClass to handle,
// acking only when handle returns nil. This is the worker-loop side of the
// reference queue; Driver.Perform (via Engine.Dispatch) is the intended
// handle.
func (q *Queue) Subscribe(ctx context.Context, jobClass string, handle func(ctx context.Context, key string, payload chronoforge.JobPayload) error) error {
	consumer, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       "chronoforge-" + jobClass,
		FilterSubject: subjectFor(jobClass),
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("chronoforge: creating consumer for %s: %w", jobClass, err)
	}

	_, err = consumer.Consume(func(msg jetstream.Msg) {
		var decoded message
		if err := json.Unmarshal(msg.Data(), &decoded); err != nil {
			logging.Error("chronoforge: dropping undecodable message on %s: %v", jobClass, err)
			_ = msg.Term()
			return
		}

		err := handle(ctx, decoded.Key, chronoforge.JobPayload{
			Attempt:       decoded.Attempt,
			RetryWorkflow: decoded.RetryWorkflow,
			Options:       decoded.Options,
			Kwargs:        decoded.Kwargs,
		})
		if err != nil {
			logging.Error("chronoforge: handling %s/%s failed: %v", jobClass, decoded.Key, err)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("chronoforge: starting consumer for %s: %w", jobClass, err)
	}
	return nil
}

// Close drains pending delayed-enqueue timers and shuts down the
// connection (and the embedded server, if any).
func (q *Queue) Close() {
	close(q.closing)
	q.timers.Wait()
	if q.nc != nil {
		q.nc.Close()
	}
	if q.srv != nil {
		q.srv.Shutdown()
		q.srv.WaitForShutdown()
	}
}
