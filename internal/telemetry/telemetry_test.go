package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/coord/internal/storage"
)

func TestSettingsFromEnv(t *testing.T) {
	t.Setenv("COORD_OTEL_ENABLED", "true")
	t.Setenv("COORD_OTEL_STDOUT", "")
	t.Setenv("OTEL_SERVICE_NAME", "coord-ci")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")

	s := SettingsFromEnv("coord", "1.2.3")
	assert.True(t, s.Enabled)
	assert.False(t, s.Stdout)
	assert.Equal(t, "coord-ci", s.ServiceName)
	assert.Equal(t, "1.2.3", s.Version)
	assert.Equal(t, "localhost:4318", s.OTLPEndpoint)
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Settings{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitEnabledWithoutExporters(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Init(ctx, Settings{Enabled: true, ServiceName: "coord", Version: "test"})
	require.NoError(t, err)

	_, end := NewRPCInstruments().Start(ctx, "daemon.ping")
	end("")
	require.NoError(t, shutdown(ctx))

	// Leave no-op providers behind for the other tests.
	_, err = Init(ctx, Settings{})
	require.NoError(t, err)
}

func TestWrapStoreDisabledReturnsInner(t *testing.T) {
	t.Setenv("COORD_OTEL_ENABLED", "")
	inner := storage.NewMemoryStore()
	assert.Same(t, inner, WrapStore(inner))
}

func TestWrapStorePassesThrough(t *testing.T) {
	t.Setenv("COORD_OTEL_ENABLED", "true")
	inner := storage.NewMemoryStore()
	s := WrapStore(inner)
	_, wrapped := s.(*InstrumentedStore)
	require.True(t, wrapped)

	ctx := context.Background()
	state := storage.NewState()
	state.NextID = 7
	require.NoError(t, s.Save(ctx, storage.TableQueue, state))
	assert.Equal(t, 1, inner.Saves(storage.TableQueue))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.NextID)

	boom := errors.New("disk full")
	inner.FailSaves(boom)
	assert.ErrorIs(t, s.Save(ctx, storage.TableAgents, state), boom)
}

func TestRPCInstrumentsEnd(t *testing.T) {
	r := NewRPCInstruments()
	ctx, end := r.Start(context.Background(), "daemon.ping")
	require.NotNil(t, ctx)
	end("")
	_, end = r.Start(context.Background(), "queue.get")
	end("not_found")
}
