package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCheck struct {
	name string
	err  error
}

func (s stubCheck) Check(ctx context.Context) error { return s.err }
func (s stubCheck) Name() string                    { return s.name }

func TestHealthChecker(t *testing.T) {
	hc := NewHealthChecker()
	hc.Register(stubCheck{name: "redis"})
	hc.Register(stubCheck{name: "bus", err: errors.New("connection refused")})

	results := hc.Check(context.Background())
	require.Len(t, results, 2)
	assert.NoError(t, results["redis"])
	assert.Error(t, results["bus"])
}

func TestHandler(t *testing.T) {
	tests := []struct {
		name       string
		checks     []HealthCheck
		wantStatus int
	}{
		{
			name:       "all up",
			checks:     []HealthCheck{stubCheck{name: "redis"}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "one down",
			checks:     []HealthCheck{stubCheck{name: "redis", err: errors.New("down")}},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker()
			for _, c := range tt.checks {
				hc.Register(c)
			}
			rec := httptest.NewRecorder()
			hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
