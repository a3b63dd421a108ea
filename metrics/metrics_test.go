package metrics_test

import (
	"context"
	"testing"

	auth "github.com/goliatone/go-auth-privilege"
	"github.com/goliatone/go-auth-privilege/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkCountsEvents(t *testing.T) {
	registry := prometheus.NewRegistry()
	sink := metrics.NewSink(registry)

	ctx := context.Background()
	require.NoError(t, sink.Record(ctx, auth.ActivityEvent{EventType: auth.ActivityEventLoginSuccess}))
	require.NoError(t, sink.Record(ctx, auth.ActivityEvent{EventType: auth.ActivityEventLoginSuccess}))
	require.NoError(t, sink.Record(ctx, auth.ActivityEvent{EventType: auth.ActivityEventLoginFailure}))

	assert.Equal(t, float64(2), testutil.ToFloat64(sink.Events.WithLabelValues(string(auth.ActivityEventLoginSuccess))))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.Events.WithLabelValues(string(auth.ActivityEventLoginFailure))))
}

func TestSinkCountsDeniedAuthorities(t *testing.T) {
	sink := metrics.NewSink(prometheus.NewRegistry())

	err := sink.Record(context.Background(), auth.ActivityEvent{
		EventType: auth.ActivityEventPrivilegeDenied,
		Metadata: map[string]any{
			"required": []string{"USERS:ADMINS:READ", "USERS:OWNERS:READ"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(sink.PrivilegeDenials.WithLabelValues("USERS:ADMINS:READ")))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.PrivilegeDenials.WithLabelValues("USERS:OWNERS:READ")))
}

func TestSinkChainsToNext(t *testing.T) {
	var got []auth.ActivityEvent
	next := auth.ActivitySinkFunc(func(_ context.Context, e auth.ActivityEvent) error {
		got = append(got, e)
		return nil
	})

	sink := metrics.NewSink(prometheus.NewRegistry()).Chain(next)
	require.NoError(t, sink.Record(context.Background(), auth.ActivityEvent{EventType: auth.ActivityEventSignOut}))

	require.Len(t, got, 1)
	assert.Equal(t, auth.ActivityEventSignOut, got[0].EventType)
}
