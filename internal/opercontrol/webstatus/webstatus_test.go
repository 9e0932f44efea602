package webstatus

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cycoslave/ratbox-services-sub000/internal/config"
	"github.com/cycoslave/ratbox-services-sub000/internal/hookbus"
	"github.com/cycoslave/ratbox-services-sub000/internal/opercontrol"
)

type fakeProvider struct {
	name  string
	stats map[string]string
}

func (f fakeProvider) Name() string             { return f.name }
func (f fakeProvider) Stats() map[string]string { return f.stats }

func TestStatusEndpointReturnsUptime(t *testing.T) {
	cfg := &config.Config{}
	ctrl := opercontrol.New(cfg, hookbus.New(), func(string, string) (uint32, bool) { return 0, false }, func() (*config.Config, error) { return cfg, nil })
	srv := New(ctrl, func() []opercontrol.StatsProvider { return nil })

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "uptime_seconds")
}

func TestStatsOneEndpointFiltersByName(t *testing.T) {
	cfg := &config.Config{}
	ctrl := opercontrol.New(cfg, hookbus.New(), func(string, string) (uint32, bool) { return 0, false }, func() (*config.Config, error) { return cfg, nil })
	providers := []opercontrol.StatsProvider{fakeProvider{name: "kline", stats: map[string]string{"active": "2"}}}
	srv := New(ctrl, func() []opercontrol.StatsProvider { return providers })

	req := httptest.NewRequest("GET", "/stats/kline", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active":"2"`)

	req2 := httptest.NewRequest("GET", "/stats/nosuch", nil)
	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, req2)
	assert.Equal(t, 404, rec2.Code)
}
