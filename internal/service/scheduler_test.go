package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"giftcard-ledger/internal/core/ports"
	"giftcard-ledger/internal/core/ports/mocks"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func TestScheduler_RunsJobsUntilCancelled(t *testing.T) {
	ctrl := gomock.NewController(t)
	payouts := mocks.NewMockPayoutService(ctrl)
	ledger := mocks.NewMockLedgerService(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches := make(chan struct{}, 1)
	sweeps := make(chan struct{}, 1)
	payouts.EXPECT().RunBatch(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, time.Time) (*ports.BatchResult, error) {
			signal(batches)
			return &ports.BatchResult{}, nil
		}).MinTimes(1)
	ledger.EXPECT().ExpireDue(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, time.Time) (int, error) {
			signal(sweeps)
			return 0, errors.New("db down")
		}).MinTimes(1)

	s := NewScheduler(payouts, ledger, 5*time.Millisecond, 5*time.Millisecond, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for _, ch := range []chan struct{}{batches, sweeps} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("job did not run")
		}
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_DisabledJobs(t *testing.T) {
	ctrl := gomock.NewController(t)
	s := NewScheduler(mocks.NewMockPayoutService(ctrl), mocks.NewMockLedgerService(ctrl), 0, -time.Second, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, s.Run(ctx), "with every job disabled Run returns at once")
}
