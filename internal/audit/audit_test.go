package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: EventLoginSuccess, PrincipalID: int64(i + 1), Success: true})
	}
	d.Close()
	d.Emit(context.Background(), Event{EventType: EventLogout})

	require.Len(t, sink.Events(), 5)
	require.EqualValues(t, 5, d.Delivered())
	require.Zero(t, d.Dropped())

	ev := <-sink.Events()
	require.False(t, ev.Timestamp.IsZero())
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{}, NoOpSink{})
	require.Nil(t, d)
	d.Emit(context.Background(), Event{EventType: EventLogout})
	d.Close()
	require.Zero(t, d.Dropped())
}

type blockingSink struct{ release chan struct{} }

func (s blockingSink) Emit(context.Context, Event) { <-s.release }

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := blockingSink{release: make(chan struct{})}
	var hooked atomic.Int32
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink,
		WithDropHook(func(Event) { hooked.Add(1) }))

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: EventLoginFailure})
	}
	require.Eventually(t, func() bool { return d.Dropped() > 0 }, time.Second, 5*time.Millisecond)
	require.EqualValues(t, d.Dropped(), hooked.Load())

	close(sink.release)
	d.Close()
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{EventType: EventLogoutAll, PrincipalID: 9, Success: true})
	sink.Emit(context.Background(), Event{EventType: EventLogout, SessionID: "s1", Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	require.Equal(t, EventLogoutAll, ev.EventType)
	require.EqualValues(t, 9, ev.PrincipalID)
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(context.Background(), Event{EventType: EventLoginSuccess, PrincipalID: 1, Success: true})
	sink.Emit(context.Background(), Event{EventType: EventLoginFailure, IP: "203.0.113.1", Error: "invalid credentials",
		Metadata: map[string]string{"reason": "password_mismatch"}})

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zap.InfoLevel, entries[0].Level)
	require.Equal(t, zap.WarnLevel, entries[1].Level)
	require.Equal(t, "password_mismatch", entries[1].ContextMap()["meta.reason"])
}
