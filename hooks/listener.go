// Package hooks turns NATS events into distribution operations.
package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"rfqflow/actions"
	"rfqflow/distribution"
	"rfqflow/logging"
	"rfqflow/messaging"
)

var (
	ErrBadEvent      = errors.New("hooks: bad event")
	ErrTokenMismatch = errors.New("hooks: token does not match event")
	ErrTokenRequired = errors.New("hooks: token required")
)

const queueGroup = "rfqflow"

type Distributor interface {
	Distribute(ctx context.Context, tripRequestID string) (distribution.Result, error)
}

type StatusWriter interface {
	MarkViewed(ctx context.Context, id string) (distribution.Distribution, error)
	MarkResponded(ctx context.Context, id string) (distribution.Distribution, error)
}

type TokenVerifier interface {
	Verify(token string) (actions.Claims, error)
}

// Subscriber is satisfied by *nats.Conn.
type Subscriber interface {
	QueueSubscribe(subject, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Listener subscribes to trip and distribution events. When a verifier is set
// status events must carry a signed token; otherwise a bare distribution id
// is accepted.
type Listener struct {
	distributor Distributor
	statuses    StatusWriter
	verifier    TokenVerifier
	logger      *logging.Logger
	timeout     time.Duration

	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewListener(distributor Distributor, statuses StatusWriter) *Listener {
	return &Listener{
		distributor: distributor,
		statuses:    statuses,
		logger:      logging.Discard(),
		timeout:     30 * time.Second,
	}
}

func (l *Listener) WithVerifier(v TokenVerifier) *Listener {
	l.verifier = v
	return l
}

func (l *Listener) WithLogger(logger *logging.Logger) *Listener {
	l.logger = logger
	return l
}

// Start subscribes all handlers in the rfqflow queue group.
func (l *Listener) Start(sub Subscriber) error {
	handlers := map[string]func(context.Context, []byte) (messaging.Reply, error){
		messaging.SubjectTripSubmitted:         l.HandleTripSubmitted,
		messaging.SubjectDistributionViewed:    l.HandleViewed,
		messaging.SubjectDistributionResponded: l.HandleResponded,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for subject, h := range handlers {
		s, err := sub.QueueSubscribe(subject, queueGroup, l.dispatch(subject, h))
		if err != nil {
			l.unsubscribeLocked()
			return fmt.Errorf("hooks: subscribe %s: %w", subject, err)
		}
		l.subs = append(l.subs, s)
	}
	return nil
}

func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unsubscribeLocked()
}

func (l *Listener) unsubscribeLocked() {
	for _, s := range l.subs {
		if err := s.Unsubscribe(); err != nil {
			l.logger.Warn("hooks: unsubscribe", "subject", s.Subject, logging.Error(err))
		}
	}
	l.subs = nil
}

func (l *Listener) dispatch(subject string, h func(context.Context, []byte) (messaging.Reply, error)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()

		reply, err := h(ctx, msg.Data)
		if err != nil {
			l.logger.WarnContext(ctx, "event handling failed", "subject", subject, logging.Error(err))
			reply = messaging.Reply{Error: err.Error()}
		}
		if msg.Reply == "" {
			return
		}
		data, err := json.Marshal(reply)
		if err != nil {
			return
		}
		if err := msg.Respond(data); err != nil {
			l.logger.WarnContext(ctx, "respond to event", "subject", subject, logging.Error(err))
		}
	}
}

func (l *Listener) HandleTripSubmitted(ctx context.Context, data []byte) (messaging.Reply, error) {
	var ev messaging.TripSubmitted
	if err := json.Unmarshal(data, &ev); err != nil {
		return messaging.Reply{}, fmt.Errorf("%w: %v", ErrBadEvent, err)
	}
	id := strings.TrimSpace(ev.TripRequestID)
	if id == "" {
		return messaging.Reply{}, fmt.Errorf("%w: trip_request_id is required", ErrBadEvent)
	}

	res, err := l.distributor.Distribute(ctx, id)
	if err != nil {
		return messaging.Reply{}, err
	}
	status := fmt.Sprintf("distributed to %d agencies", len(res.DistributionIDs))
	if res.Skipped != "" {
		status = res.Skipped
	}
	return messaging.Reply{OK: true, Status: status}, nil
}

func (l *Listener) HandleViewed(ctx context.Context, data []byte) (messaging.Reply, error) {
	return l.handleStatus(ctx, data, actions.KindView, l.statuses.MarkViewed)
}

func (l *Listener) HandleResponded(ctx context.Context, data []byte) (messaging.Reply, error) {
	return l.handleStatus(ctx, data, actions.KindOffer, l.statuses.MarkResponded)
}

func (l *Listener) handleStatus(ctx context.Context, data []byte, kind actions.Kind,
	write func(context.Context, string) (distribution.Distribution, error)) (messaging.Reply, error) {

	var ev messaging.DistributionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return messaging.Reply{}, fmt.Errorf("%w: %v", ErrBadEvent, err)
	}

	id, err := l.resolveID(ev, kind)
	if err != nil {
		return messaging.Reply{}, err
	}

	d, err := write(logging.WithDistribution(ctx, id), id)
	if err != nil {
		return messaging.Reply{}, err
	}
	return messaging.Reply{OK: true, Status: string(d.Status)}, nil
}

func (l *Listener) resolveID(ev messaging.DistributionEvent, kind actions.Kind) (string, error) {
	if l.verifier == nil {
		if ev.DistributionID == "" {
			return "", fmt.Errorf("%w: distribution_id is required", ErrBadEvent)
		}
		return ev.DistributionID, nil
	}

	if ev.Token == "" {
		return "", ErrTokenRequired
	}
	claims, err := l.verifier.Verify(ev.Token)
	if err != nil {
		return "", err
	}
	if claims.Kind != kind {
		return "", ErrTokenMismatch
	}
	if ev.DistributionID != "" && ev.DistributionID != claims.DistributionID {
		return "", ErrTokenMismatch
	}
	return claims.DistributionID, nil
}
