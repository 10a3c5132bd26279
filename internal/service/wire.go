package service

import (
	"fmt"
	"strings"
)

const runSimulationPath = "/run-simulation"

// Sample is one {time, value} point of a detailed_data series.
type Sample struct {
	Time  float64 `json:"time"`
	Value float64 `json:"value"`
}

// MetricsPayload mirrors the engine's metrics object. Pointers distinguish a
// missing field from a zero value.
type MetricsPayload struct {
	RenegedCars     *int64   `json:"reneged_cars"`
	AvgWaitTime     *float64 `json:"avg_wait_time"`
	LongestWaitTime *float64 `json:"longest_wait_time"`
}

type DetailedData struct {
	QueueData    []Sample `json:"queue_data"`
	CarWashData  []Sample `json:"car_wash_data"`
	LostCarsData []Sample `json:"lost_cars_data"`
}

// Reply is the engine's tagged response to a run request.
type Reply struct {
	Success      bool            `json:"success"`
	Error        string          `json:"error,omitempty"`
	Metrics      *MetricsPayload `json:"metrics,omitempty"`
	DetailedData *DetailedData   `json:"detailed_data,omitempty"`
}

// Err returns an *EngineError when the engine reported failure.
func (r *Reply) Err() error {
	if r == nil || r.Success {
		return nil
	}
	return &EngineError{Message: r.Error}
}

// EngineError is a failure the engine reported itself with success=false.
type EngineError struct {
	Message string
}

func (e *EngineError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return "engine reported failure without a message"
	}
	return e.Message
}

// TransportError covers everything between us and a decoded reply: dial and
// timeout failures, non-2xx statuses and bodies that are not the expected JSON.
type TransportError struct {
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Detail != "":
		return fmt.Sprintf("request failed: engine returned HTTP %d: %s", e.StatusCode, e.Detail)
	case e.StatusCode != 0:
		return fmt.Sprintf("request failed: engine returned HTTP %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("request failed: %s: %v", e.Op, e.Err)
	default:
		return "request failed: " + e.Op
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
