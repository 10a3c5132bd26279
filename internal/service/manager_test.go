package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stevenijones/reactcarwashsim/internal/params"
)

const successBody = `{
  "success": true,
  "metrics": {"reneged_cars": 3, "avg_wait_time": 4.2, "longest_wait_time": 9.7},
  "detailed_data": {
    "queue_data": [{"time": 0, "value": 0}],
    "car_wash_data": [{"time": 0, "value": 1}],
    "lost_cars_data": [{"time": 0, "value": 0}]
  }
}`

func newEngine(t *testing.T, handler http.HandlerFunc) *Manager {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewManager(Options{BaseURL: srv.URL + "/"})
}

func TestRunSimulationPostsAllFields(t *testing.T) {
	t.Parallel()

	var gotMethod, gotPath, gotType string
	var gotBody map[string]any
	m := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath, gotType = r.Method, r.URL.Path, r.Header.Get("Content-Type")
		blob, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(blob, &gotBody)
		_, _ = io.WriteString(w, successBody)
	})

	reply, err := m.RunSimulation(context.Background(), params.Defaults())
	require.NoError(t, err)

	require.Equal(t, http.MethodPost, gotMethod)
	require.Equal(t, "/run-simulation", gotPath)
	require.Equal(t, "application/json", gotType)
	require.Equal(t, map[string]any{
		"runLength":      float64(500),
		"numSystems":     float64(2),
		"maxQueueLength": float64(5),
		"arrivalRate":    0.6,
	}, gotBody)

	require.True(t, reply.Success)
	require.NoError(t, reply.Err())
	require.NotNil(t, reply.Metrics)
	require.EqualValues(t, 3, *reply.Metrics.RenegedCars)
	require.Equal(t, 4.2, *reply.Metrics.AvgWaitTime)
	require.Len(t, reply.DetailedData.CarWashData, 1)
	require.Equal(t, Sample{Time: 0, Value: 1}, reply.DetailedData.CarWashData[0])
}

func TestRunSimulationEngineFailureIsAReply(t *testing.T) {
	t.Parallel()

	m := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success": false, "error": "queue overflow"}`)
	})

	reply, err := m.RunSimulation(context.Background(), params.Defaults())
	require.NoError(t, err)
	require.False(t, reply.Success)

	var engErr *EngineError
	require.True(t, errors.As(reply.Err(), &engErr))
	require.Equal(t, "queue overflow", engErr.Error())
}

func TestRunSimulationTransportFailures(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		handler    http.HandlerFunc
		wantStatus int
		wantText   string
	}{
		"server error": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = io.WriteString(w, `{"success": false, "error": "boom"}`)
			},
			wantStatus: http.StatusInternalServerError,
			wantText:   "HTTP 500: boom",
		},
		"not found without body": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			wantStatus: http.StatusNotFound,
			wantText:   "HTTP 404",
		},
		"html body": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, "<html>oops</html>")
			},
			wantText: "decode response",
		},
		"null body": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, "null")
			},
			wantText: "not a JSON object",
		},
		"wrong field type": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"success": true, "metrics": {"reneged_cars": "many"}}`)
			},
			wantText: "decode response",
		},
	}
	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			m := newEngine(t, tc.handler)
			reply, err := m.RunSimulation(context.Background(), params.Defaults())
			require.Nil(t, reply)

			var tErr *TransportError
			require.True(t, errors.As(err, &tErr), "expected *TransportError, got %T", err)
			require.Equal(t, tc.wantStatus, tErr.StatusCode)
			require.Contains(t, tErr.Error(), tc.wantText)
		})
	}
}

func TestRunSimulationConnectionRefused(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	m := NewManager(Options{BaseURL: "http://" + addr})
	_, err = m.RunSimulation(context.Background(), params.Defaults())

	var tErr *TransportError
	require.True(t, errors.As(err, &tErr))
	require.Equal(t, "perform request", tErr.Op)
	require.Contains(t, tErr.Error(), "request failed")
}

func TestRunSimulationHonoursContextDeadline(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	m := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := m.RunSimulation(ctx, params.Defaults())

	var tErr *TransportError
	require.True(t, errors.As(err, &tErr))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	m := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, "Welcome to the Car Wash Simulation API")
	})
	require.NoError(t, m.Health(context.Background()))
	require.NoError(t, m.Start(context.Background()))
	require.False(t, m.Managed())
	require.NoError(t, m.Stop())

	down := newEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	require.Error(t, down.Health(context.Background()))
}

func TestStartFailsWhenProcessExitsEarly(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	m := NewManager(Options{
		BaseURL:       "http://" + addr,
		LaunchCommand: []string{"sh", "-c", "echo engine booting; exit 3"},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = m.Start(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "exited before becoming healthy")
	require.Contains(t, m.Logs(), "engine stdout: engine booting")
}

func TestEndpoint(t *testing.T) {
	t.Parallel()

	m := NewManager(Options{BaseURL: " http://127.0.0.1:5000/ "})
	require.Equal(t, "http://127.0.0.1:5000/run-simulation", m.Endpoint())
}
