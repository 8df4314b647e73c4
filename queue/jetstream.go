package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"rfqflow/logging"
)

type JetStreamConfig struct {
	Stream   string
	Subject  string
	Consumer string
	AckWait  time.Duration
	Workers  int
	// Duplicates is the publish de-duplication window. Re-enqueues of the
	// same distribution inside it are dropped.
	Duplicates time.Duration
}

// JetStream runs delivery jobs over a NATS JetStream work-queue stream with a
// durable consumer. Publishes are de-duplicated by distribution id inside the
// stream's duplicate window.
type JetStream struct {
	js     jetstream.JetStream
	cfg    JetStreamConfig
	policy RetryPolicy
	logger *logging.Logger
}

func NewJetStream(js jetstream.JetStream, cfg JetStreamConfig, policy RetryPolicy, logger *logging.Logger) *JetStream {
	if cfg.Subject == "" {
		cfg.Subject = "rfq.deliveries"
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 60 * time.Second
	}
	if cfg.Duplicates <= 0 {
		cfg.Duplicates = 2 * time.Minute
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &JetStream{js: js, cfg: cfg, policy: policy, logger: logger}
}

// Setup creates or updates the stream and the durable consumer.
func (q *JetStream) Setup(ctx context.Context) (jetstream.Consumer, error) {
	stream, err := q.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       q.cfg.Stream,
		Subjects:   []string{q.cfg.Subject},
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: q.cfg.Duplicates,
	})
	if err != nil {
		return nil, fmt.Errorf("queue: create stream %s: %w", q.cfg.Stream, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          q.cfg.Consumer,
		Durable:       q.cfg.Consumer,
		FilterSubject: q.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.cfg.AckWait,
		MaxDeliver:    q.policy.MaxAttempts,
		MaxAckPending: q.cfg.Workers * 4,
	})
	if err != nil {
		return nil, fmt.Errorf("queue: create consumer %s: %w", q.cfg.Consumer, err)
	}
	return consumer, nil
}

func (q *JetStream) EnqueueBulk(ctx context.Context, jobs []Job) error {
	var errs []error
	for _, job := range jobs {
		data, err := json.Marshal(job)
		if err != nil {
			errs = append(errs, fmt.Errorf("queue: marshal job %s: %w", job.DistributionID, err))
			continue
		}
		if _, err := q.js.Publish(ctx, q.cfg.Subject, data, jetstream.WithMsgID(job.DistributionID)); err != nil {
			errs = append(errs, fmt.Errorf("queue: publish job %s: %w", job.DistributionID, err))
		}
	}
	return errors.Join(errs...)
}

// Run consumes jobs with up to cfg.Workers handlers in flight until ctx is done.
func (q *JetStream) Run(ctx context.Context, consumer jetstream.Consumer, handler Handler) error {
	g := new(errgroup.Group)
	g.SetLimit(q.cfg.Workers)

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		g.Go(func() error {
			q.handle(ctx, msg, handler)
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("queue: consume: %w", err)
	}

	<-ctx.Done()
	cons.Stop()
	return g.Wait()
}

func (q *JetStream) handle(ctx context.Context, msg jetstream.Msg, handler Handler) {
	attempt := 1
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}

	var job Job
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		q.logger.ErrorContext(ctx, "dropping undecodable job", logging.Error(err))
		_ = msg.Term()
		return
	}

	err := handler.Process(WithAttempt(ctx, attempt), job)
	if settleErr := q.settle(msg, attempt, err); settleErr != nil {
		q.logger.WarnContext(ctx, "settle job message",
			logging.DistributionID(job.DistributionID),
			logging.Attempt(attempt),
			logging.Error(settleErr))
	}
}

type acker interface {
	Ack() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

// settle acks a handled job, schedules a retry with backoff, or terminates it
// once the retry budget is spent.
func (q *JetStream) settle(msg acker, attempt int, handleErr error) error {
	switch {
	case handleErr == nil:
		return msg.Ack()
	case q.policy.Exhausted(attempt):
		return msg.Term()
	default:
		return msg.NakWithDelay(q.policy.Delay(attempt))
	}
}
