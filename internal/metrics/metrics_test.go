package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-isochrones/internal/isochrone"
)

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(isochrone.DefaultParams())
	c.SessionsEnded.WithLabelValues("done").Inc()
	c.ScheduleLookups.WithLabelValues("route", "hit").Add(3)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `isochrone_sessions_ended_total{state="done"} 1`)
	assert.Contains(t, string(body), `isochrone_schedule_lookups_total{kind="route",result="hit"} 3`)
	assert.Contains(t, string(body), "isochrone_walk_speed_meters_per_minute 83.3")
	assert.Contains(t, string(body), "isochrone_max_walk_radius_meters 1500")
	assert.Contains(t, string(body), "isochrone_batch_size 1000")
}
