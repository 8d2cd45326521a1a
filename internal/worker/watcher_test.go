package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(context.Context) error {
	return f.err
}

func TestWatcherFiresOncePerRecovery(t *testing.T) {
	pinger := &fakePinger{err: errors.New("connection refused")}
	fired := 0
	w := NewConnectivityWatcher(pinger, time.Minute, func(context.Context) {
		fired++
	})

	ctx := context.Background()

	// Offline polls never fire.
	w.poll(ctx)
	w.poll(ctx)
	assert.Zero(t, fired)
	assert.False(t, w.Online())

	// The first successful poll fires, the next ones do not.
	pinger.err = nil
	w.poll(ctx)
	assert.Equal(t, 1, fired)
	assert.True(t, w.Online())
	w.poll(ctx)
	w.poll(ctx)
	assert.Equal(t, 1, fired)

	// Dropping offline and recovering fires again.
	pinger.err = errors.New("connection refused")
	w.poll(ctx)
	assert.False(t, w.Online())
	pinger.err = nil
	w.poll(ctx)
	assert.Equal(t, 2, fired)
}

func TestWatcherFiresOnFirstPollWhenBootedOnline(t *testing.T) {
	fired := 0
	w := NewConnectivityWatcher(&fakePinger{}, time.Minute, func(context.Context) {
		fired++
	})

	// The watcher assumes offline at boot, so an immediately reachable
	// backoffice still triggers one replay.
	w.poll(context.Background())
	assert.Equal(t, 1, fired)
}

func TestWatcherNilCallback(t *testing.T) {
	w := NewConnectivityWatcher(&fakePinger{}, time.Minute, nil)
	w.poll(context.Background())
	assert.True(t, w.Online())
}
