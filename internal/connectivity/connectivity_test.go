package connectivity

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	assert.True(t, Static(true).IsConnected())
	assert.False(t, Static(false).IsConnected())
}

func TestState(t *testing.T) {
	s := NewState(false)
	assert.False(t, s.IsConnected())
	assert.True(t, s.Set(true))
	assert.True(t, s.IsConnected())
	assert.False(t, s.Set(true), "no change")
}

type scriptedDialer struct {
	fail  atomic.Bool
	calls atomic.Int32
}

func (d *scriptedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.calls.Add(1)
	if d.fail.Load() {
		return nil, errors.New("connection refused")
	}
	client, server := net.Pipe()
	server.Close()
	return client, nil
}

func TestMonitorCheck(t *testing.T) {
	d := &scriptedDialer{}
	m := NewMonitor(MonitorConfig{Address: "collector:443"}, nil).WithDialer(d)

	assert.True(t, m.Check(context.Background()))
	assert.True(t, m.IsConnected())

	d.fail.Store(true)
	assert.False(t, m.Check(context.Background()))
	assert.False(t, m.IsConnected())
}

func TestMonitorRealListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	m := NewMonitor(MonitorConfig{Address: addr, Timeout: time.Second}, nil)
	assert.True(t, m.Check(context.Background()))

	require.NoError(t, ln.Close())
	assert.False(t, m.Check(context.Background()))
}

func TestMonitorRunStopsOnCancel(t *testing.T) {
	d := &scriptedDialer{}
	m := NewMonitor(MonitorConfig{Address: "x:1", Interval: 5 * time.Millisecond}, nil).WithDialer(d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return d.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestProbeImplementations(t *testing.T) {
	var _ Probe = Static(true)
	var _ Probe = NewState(true)
	var _ Probe = NewMonitor(MonitorConfig{}, nil)
}
