package actors

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"rfqflow/distribution"
	"rfqflow/transport"
)

// Distributor hammers Distribute for randomly chosen trip requests. Several
// distributors racing over the same ids must still produce one distribution
// per (request, agency). Errors go to onErr; the chaos actor provokes them.
func Distributor(ctx context.Context, svc *distribution.Service, tripIDs []string, onErr func(error), stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id := tripIDs[rand.Intn(len(tripIDs))]
		if _, err := svc.Distribute(ctx, id); err != nil && ctx.Err() == nil {
			onErr(fmt.Errorf("distribute %s: %w", id, err))
		}
		time.Sleep(time.Duration(5+rand.Intn(15)) * time.Millisecond)
	}
}

// Viewer simulates agencies opening and answering delivered requests.
func Viewer(ctx context.Context, svc *distribution.Service, ids func() []string, onErr func(error), stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		all := ids()
		if len(all) > 0 {
			id := all[rand.Intn(len(all))]
			var err error
			if rand.Intn(3) == 0 {
				_, err = svc.MarkResponded(ctx, id)
			} else {
				_, err = svc.MarkViewed(ctx, id)
			}
			if err != nil && ctx.Err() == nil {
				onErr(fmt.Errorf("status write %s: %w", id, err))
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// FlakySender fails sends at random: a share of them transiently (429) and
// a share permanently (403). It counts every attempt.
type FlakySender struct {
	TransientRate float64
	PermanentRate float64

	mu    sync.Mutex
	rng   *rand.Rand
	sends atomic.Int64
}

func NewFlakySender(seed int64, transientRate, permanentRate float64) *FlakySender {
	return &FlakySender{
		TransientRate: transientRate,
		PermanentRate: permanentRate,
		rng:           rand.New(rand.NewSource(seed)),
	}
}

func (s *FlakySender) Send(ctx context.Context, target, _ string, _ []transport.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.sends.Add(1)

	s.mu.Lock()
	roll := s.rng.Float64()
	s.mu.Unlock()

	switch {
	case roll < s.TransientRate:
		return &transport.Error{StatusCode: 429, Message: "Too Many Requests", RetryAfter: time.Second}
	case roll < s.TransientRate+s.PermanentRate:
		return &transport.Error{StatusCode: 403, Message: "Forbidden: bot was blocked by " + target}
	}
	return nil
}

func (s *FlakySender) Sends() int64 {
	return s.sends.Load()
}
