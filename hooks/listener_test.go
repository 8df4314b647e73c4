package hooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfqflow/actions"
	"rfqflow/distribution"
)

type fakeDistributor struct {
	ids    []string
	result distribution.Result
	err    error
}

func (f *fakeDistributor) Distribute(_ context.Context, id string) (distribution.Result, error) {
	f.ids = append(f.ids, id)
	return f.result, f.err
}

type fakeStatuses struct {
	viewed    []string
	responded []string
}

func (f *fakeStatuses) MarkViewed(_ context.Context, id string) (distribution.Distribution, error) {
	f.viewed = append(f.viewed, id)
	return distribution.Distribution{ID: id, Status: distribution.StatusViewed}, nil
}

func (f *fakeStatuses) MarkResponded(_ context.Context, id string) (distribution.Distribution, error) {
	f.responded = append(f.responded, id)
	return distribution.Distribution{ID: id, Status: distribution.StatusResponded}, nil
}

func TestHandleTripSubmitted(t *testing.T) {
	dist := &fakeDistributor{result: distribution.Result{TotalMatched: 2, DistributionIDs: []string{"d1", "d2"}}}
	l := NewListener(dist, &fakeStatuses{})

	reply, err := l.HandleTripSubmitted(context.Background(), []byte(`{"trip_request_id":" t1 "}`))
	require.NoError(t, err)
	assert.True(t, reply.OK)
	assert.Equal(t, "distributed to 2 agencies", reply.Status)
	assert.Equal(t, []string{"t1"}, dist.ids)

	dist.result = distribution.Result{Skipped: distribution.SkipAlreadyDistributed}
	reply, err = l.HandleTripSubmitted(context.Background(), []byte(`{"trip_request_id":"t1"}`))
	require.NoError(t, err)
	assert.Equal(t, "already_distributed", reply.Status)
}

func TestHandleTripSubmitted_Errors(t *testing.T) {
	dist := &fakeDistributor{}
	l := NewListener(dist, &fakeStatuses{})

	_, err := l.HandleTripSubmitted(context.Background(), []byte(`not json`))
	assert.ErrorIs(t, err, ErrBadEvent)
	_, err = l.HandleTripSubmitted(context.Background(), []byte(`{}`))
	assert.ErrorIs(t, err, ErrBadEvent)
	assert.Empty(t, dist.ids)

	dist.err = errors.New("db down")
	_, err = l.HandleTripSubmitted(context.Background(), []byte(`{"trip_request_id":"t1"}`))
	assert.ErrorIs(t, err, dist.err)
}

func TestStatusEvents_WithoutVerifier(t *testing.T) {
	statuses := &fakeStatuses{}
	l := NewListener(&fakeDistributor{}, statuses)

	reply, err := l.HandleViewed(context.Background(), []byte(`{"distribution_id":"d1"}`))
	require.NoError(t, err)
	assert.Equal(t, "viewed", reply.Status)

	reply, err = l.HandleResponded(context.Background(), []byte(`{"distribution_id":"d1"}`))
	require.NoError(t, err)
	assert.Equal(t, "responded", reply.Status)

	_, err = l.HandleViewed(context.Background(), []byte(`{}`))
	assert.ErrorIs(t, err, ErrBadEvent)

	assert.Equal(t, []string{"d1"}, statuses.viewed)
	assert.Equal(t, []string{"d1"}, statuses.responded)
}

func TestStatusEvents_WithVerifier(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	signer, err := actions.NewSigner("test-secret", "https://rfq.example", time.Hour)
	require.NoError(t, err)
	signer.WithClock(func() time.Time { return now })

	viewToken, err := signer.Sign("d1", actions.KindView, now.Add(time.Hour))
	require.NoError(t, err)
	offerToken, err := signer.Sign("d1", actions.KindOffer, now.Add(time.Hour))
	require.NoError(t, err)
	expired, err := signer.Sign("d1", actions.KindView, now.Add(-time.Minute))
	require.NoError(t, err)

	statuses := &fakeStatuses{}
	l := NewListener(&fakeDistributor{}, statuses).WithVerifier(signer)
	ctx := context.Background()

	_, err = l.HandleViewed(ctx, []byte(`{"token":"`+viewToken+`"}`))
	require.NoError(t, err)
	_, err = l.HandleResponded(ctx, []byte(`{"token":"`+offerToken+`","distribution_id":"d1"}`))
	require.NoError(t, err)

	tests := []struct {
		name    string
		handler func(context.Context, []byte) error
		body    string
		wantErr error
	}{
		{"bare id rejected", wrap(l.HandleViewed), `{"distribution_id":"d1"}`, ErrTokenRequired},
		{"offer token on view subject", wrap(l.HandleViewed), `{"token":"` + offerToken + `"}`, ErrTokenMismatch},
		{"view token on responded subject", wrap(l.HandleResponded), `{"token":"` + viewToken + `"}`, ErrTokenMismatch},
		{"id differs from token", wrap(l.HandleViewed), `{"token":"` + viewToken + `","distribution_id":"d2"}`, ErrTokenMismatch},
		{"expired token", wrap(l.HandleViewed), `{"token":"` + expired + `"}`, actions.ErrInvalidToken},
		{"garbage token", wrap(l.HandleViewed), `{"token":"abc.def.ghi"}`, actions.ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.handler(ctx, []byte(tt.body)), tt.wantErr)
		})
	}

	assert.Equal(t, []string{"d1"}, statuses.viewed)
	assert.Equal(t, []string{"d1"}, statuses.responded)
}

func wrap[T any](h func(context.Context, []byte) (T, error)) func(context.Context, []byte) error {
	return func(ctx context.Context, data []byte) error {
		_, err := h(ctx, data)
		return err
	}
}
