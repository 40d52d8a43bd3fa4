package bot

import (
	"context"
	"errors"
	"testing"
	"time"
)

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	s, err := NewScheduler(discardLogger(), nil, nil)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	b := NewBot(discardLogger(), blockUntilDone, s, runnerFunc(blockUntilDone))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRunPropagatesListenerFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	b := NewBot(discardLogger(), func(context.Context) error { return boom }, nil, runnerFunc(blockUntilDone))
	if err := b.Run(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Run() error = %v, want %v", err, boom)
	}
}

func TestRunSurvivesAppClientFailure(t *testing.T) {
	t.Parallel()

	appDone := make(chan struct{})
	listenerCtxErr := make(chan error, 1)
	listener := func(ctx context.Context) error {
		<-appDone
		time.Sleep(50 * time.Millisecond)
		listenerCtxErr <- ctx.Err()
		<-ctx.Done()
		return ctx.Err()
	}
	app := runnerFunc(func(context.Context) error {
		defer close(appDone)
		return errors.New("auth failed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewBot(discardLogger(), listener, nil, app).Run(ctx) }()

	select {
	case err := <-listenerCtxErr:
		if err != nil {
			t.Errorf("listener context error = %v after app client failure, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listener never observed the app client failure")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRunListenerReturnsEarly(t *testing.T) {
	t.Parallel()

	b := NewBot(discardLogger(), func(context.Context) error { return nil }, nil, nil)
	if err := b.Run(context.Background()); err == nil {
		t.Error("Run() error = nil, want unexpected stop error")
	}
}
