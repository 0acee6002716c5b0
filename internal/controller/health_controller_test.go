package controller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthController_Readiness(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("dial tcp: connection refused") })

	tests := []struct {
		name   string
		checks map[string]Pinger
		status int
		body   string
	}{
		{"all up", map[string]Pinger{"database": ok, "redis": ok}, http.StatusOK, `{"status":"ready"}`},
		{"redis down", map[string]Pinger{"database": ok, "redis": down}, http.StatusServiceUnavailable,
			`{"status":"not ready","reason":"redis unavailable"}`},
		{"nothing configured", nil, http.StatusOK, `{"status":"ready"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewHealthController(tt.checks).Readiness(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			assert.Equal(t, tt.status, w.Code)
			assert.JSONEq(t, tt.body, w.Body.String())
		})
	}
}
