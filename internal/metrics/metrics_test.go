package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volumed/internal/audio"
)

func TestPipelineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPipelineMetrics(reg)
	require.NoError(t, err)

	m.CommandEnqueued("apply_volume")
	m.CommandEnqueued("apply_volume")
	m.CommandCoalesced("persist_volume")
	m.CommandDropped("probe")
	m.CommandExecuted("apply_volume", 2*time.Millisecond, nil)
	m.CommandExecuted("apply_volume", time.Millisecond, errors.New("mixer down"))
	m.QueueDepth(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Enqueued.WithLabelValues("apply_volume")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Coalesced.WithLabelValues("persist_volume")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dropped.WithLabelValues("probe")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Executed.WithLabelValues("apply_volume", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Executed.WithLabelValues("apply_volume", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Depth))

	_, err = NewPipelineMetrics(reg)
	assert.Error(t, err, "double registration fails")
}

func TestEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewEngineMetrics(reg)
	require.NoError(t, err)

	m.Publish(audio.EventVolumeChanged, audio.VolumeChanged{Stream: "music", Index: 14})
	m.Publish(audio.EventMuteChanged, audio.MuteChanged{Stream: "ring", Muted: true})
	m.Publish(audio.EventRingerModeChanged, audio.RingerModeChanged{Mode: "vibrate", Prev: "normal"})
	m.Publish(audio.EventMixerStateChanged, audio.MixerStateChanged{Up: false})

	assert.Equal(t, 14.0, testutil.ToFloat64(m.StreamVolume.WithLabelValues("music")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamMuted.WithLabelValues("ring")))
	assert.Equal(t, float64(audio.RingerModeVibrate), testutil.ToFloat64(m.RingerMode))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.MixerUp))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events.WithLabelValues(string(audio.EventVolumeChanged))))
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewEngineMetrics(reg)
	require.NoError(t, err)
	m.Publish(audio.EventVolumeChanged, audio.VolumeChanged{Stream: "alarm", Index: 6})

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `volumed_stream_volume_index{stream="alarm"} 6`))
}
