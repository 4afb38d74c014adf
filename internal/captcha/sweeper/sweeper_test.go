package sweeper_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmerrifield20/captcha/internal/captcha/service"
	"github.com/jmerrifield20/captcha/internal/captcha/sweeper"
	"go.uber.org/zap"
)

type stubCollector struct {
	sweeps     atomic.Int32
	reconciles atomic.Int32
	err        error
}

func (c *stubCollector) Sweep(context.Context) (service.Result, error) {
	c.sweeps.Add(1)
	return service.Result{}, c.err
}

func (c *stubCollector) Reconcile(context.Context) (service.Result, error) {
	c.reconciles.Add(1)
	return service.Result{}, c.err
}

func TestRunOnce(t *testing.T) {
	c := &stubCollector{}
	sweeper.New(c, sweeper.Config{}, zap.NewNop()).RunOnce(context.Background())
	if c.sweeps.Load() != 1 || c.reconciles.Load() != 0 {
		t.Errorf("sweeps=%d reconciles=%d", c.sweeps.Load(), c.reconciles.Load())
	}

	sweeper.New(c, sweeper.Config{Reconcile: true}, zap.NewNop()).RunOnce(context.Background())
	if c.sweeps.Load() != 2 || c.reconciles.Load() != 1 {
		t.Errorf("sweeps=%d reconciles=%d", c.sweeps.Load(), c.reconciles.Load())
	}
}

func TestRunOnce_errorsAreLoggedNotFatal(t *testing.T) {
	c := &stubCollector{err: errors.New("db down")}
	sweeper.New(c, sweeper.Config{Reconcile: true}, zap.NewNop()).RunOnce(context.Background())
	if c.reconciles.Load() != 1 {
		t.Error("reconcile must still run after a sweep error")
	}
}

func TestRun_ticksUntilCancelled(t *testing.T) {
	c := &stubCollector{}
	s := sweeper.New(c, sweeper.Config{Interval: 10 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for c.sweeps.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("only %d sweeps before deadline", c.sweeps.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
