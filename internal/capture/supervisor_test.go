package capture

import (
	"context"
	"testing"
	"time"

	"github.com/babelcloud/camcast/internal/camera"
	"github.com/babelcloud/camcast/internal/frame"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuperviseNormalShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	escalated := false

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Supervise(ctx, "worker", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}, func(error) { escalated = true })

	assert.NoError(t, err)
	assert.False(t, escalated)
}

func TestSuperviseContextErrorIsNormal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Supervise(ctx, "worker", func(ctx context.Context) error {
		return ctx.Err()
	}, func(error) { t.Error("must not escalate") })
	assert.NoError(t, err)
}

func TestSupervisePanicEscalates(t *testing.T) {
	var got error
	err := Supervise(context.Background(), "worker", func(context.Context) error {
		panic("camera driver exploded")
	}, func(e error) { got = e })

	var fatal *FatalSupervisionError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, "worker", fatal.Name)
	assert.Contains(t, fatal.Error(), "camera driver exploded")
	assert.NotEmpty(t, fatal.Stack)
	assert.Equal(t, err, got)
}

func TestSuperviseEarlyReturnEscalates(t *testing.T) {
	var got error
	err := Supervise(context.Background(), "worker", func(context.Context) error {
		return nil
	}, func(e error) { got = e })

	var fatal *FatalSupervisionError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, errStoppedEarly, fatal.Cause)
	assert.NotNil(t, got)
}

func TestSuperviseErrorEscalates(t *testing.T) {
	cause := errors.New("boom")
	err := Supervise(context.Background(), "worker", func(context.Context) error {
		return cause
	}, nil)

	var fatal *FatalSupervisionError
	require.True(t, errors.As(err, &fatal))
	assert.True(t, errors.Is(err, cause))
}

func TestSuperviseCaptureLoop(t *testing.T) {
	c := NewController(&fakeCamera{}, &fakeEncoder{}, frame.NewStore(), testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Supervise(ctx, "capture", c.Run, nil) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("supervised capture loop did not stop")
	}
}

func TestSuperviseCaptureLoopAlreadyRunning(t *testing.T) {
	c := NewController(&fakeCamera{}, &fakeEncoder{}, frame.NewStore(), testConfig())
	c.running = true

	err := Supervise(context.Background(), "capture", c.Run, nil)
	var fatal *FatalSupervisionError
	require.True(t, errors.As(err, &fatal))
	assert.True(t, errors.Is(err, ErrAlreadyRunning))
}

var _ camera.Camera = (*fakeCamera)(nil)
