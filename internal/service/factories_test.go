package service

import (
	"context"
	"net/url"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/interaction-analytics/internal/domain/interaction"
	"github.com/davidleathers/interaction-analytics/internal/infrastructure/config"
	"github.com/davidleathers/interaction-analytics/internal/infrastructure/memory"
	"github.com/davidleathers/interaction-analytics/internal/metrics"
	"github.com/davidleathers/interaction-analytics/internal/service/ingest"
)

type recordingPublisher struct {
	events []*interaction.Event
}

func (p *recordingPublisher) Name() string { return "recording" }

func (p *recordingPublisher) Publish(_ context.Context, event *interaction.Event) error {
	p.events = append(p.events, event)
	return nil
}

func int64Ptr(v int64) *int64 { return &v }

func TestServiceFactories_BuildMemory(t *testing.T) {
	ctx := context.Background()
	cfg := config.Defaults()
	cfg.Store.Driver = config.StoreMemory

	registry, err := metrics.NewRegistry("factories-test")
	require.NoError(t, err)

	pub := &recordingPublisher{}
	services, err := NewServiceFactories(cfg, zaptest.NewLogger(t), registry).Build(ctx, pub)
	require.NoError(t, err)
	defer services.Close()

	assert.IsType(t, &memory.EventStore{}, services.Repository)

	_, err = services.Ingest.Append(ctx, &ingest.AppendRequest{Action: "click", Message: "buy:5", Timestamp: int64Ptr(1000)})
	require.NoError(t, err)
	assert.Len(t, pub.events, 1)

	result, err := services.Analytics.RunQuery(ctx, url.Values{})
	require.NoError(t, err)
	assert.Equal(t, interaction.ResultOverview, result.Kind)
	assert.Equal(t, map[string]int64{"click": 1}, result.Overview.Actions)
}

func TestServiceFactories_BuildWithCache(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := config.Defaults()
	cfg.Store.Driver = config.StoreMemory
	cfg.Redis.Enabled = true
	cfg.Redis.URL = mr.Addr()

	services, err := NewServiceFactories(cfg, zaptest.NewLogger(t), nil).Build(ctx)
	require.NoError(t, err)
	defer services.Close()

	query := url.Values{"action": {"click"}}
	first, err := services.Analytics.RunQuery(ctx, query)
	require.NoError(t, err)
	assert.Empty(t, first.Entries)

	_, err = services.Ingest.Append(ctx, &ingest.AppendRequest{Action: "click", Timestamp: int64Ptr(5)})
	require.NoError(t, err)

	generation, err := mr.Get("ia:generation")
	require.NoError(t, err)
	assert.Equal(t, "1", generation, "appends bump the cache generation")

	second, err := services.Analytics.RunQuery(ctx, query)
	require.NoError(t, err)
	assert.Len(t, second.Entries, 1, "cached results from before the append are not served")
}

func TestServiceFactories_Errors(t *testing.T) {
	t.Run("unknown driver", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.Store.Driver = "cassandra"
		_, err := NewServiceFactories(cfg, zaptest.NewLogger(t), nil).Build(context.Background())
		assert.ErrorContains(t, err, "cassandra")
	})

	t.Run("bad location", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.Store.Driver = config.StoreMemory
		cfg.Engine.Location = "Mars/Olympus_Mons"
		_, err := NewServiceFactories(cfg, zaptest.NewLogger(t), nil).Build(context.Background())
		assert.ErrorContains(t, err, "invalid engine location")
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		addr := mr.Addr()
		mr.Close()

		cfg := config.Defaults()
		cfg.Store.Driver = config.StoreMemory
		cfg.Redis.Enabled = true
		cfg.Redis.URL = addr
		_, err = NewServiceFactories(cfg, zaptest.NewLogger(t), nil).Build(context.Background())
		assert.Error(t, err)
	})
}
