// Package results turns a successful engine reply into display-ready summary
// metrics and chart series. It holds no state between runs.
package results

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stevenijones/reactcarwashsim/internal/service"
)

// Series names, matching the engine's detailed_data keys.
const (
	SeriesQueue        = "queue_data"
	SeriesActiveWashes = "car_wash_data"
	SeriesLostCars     = "lost_cars_data"
)

type Metrics struct {
	RenegedCars     int64   `json:"reneged_cars"`
	AvgWaitTime     float64 `json:"avg_wait_time"`
	LongestWaitTime float64 `json:"longest_wait_time"`
}

type Sample struct {
	Time  float64 `json:"time"`
	Value float64 `json:"value"`
}

// Series is an ordered sequence of samples. Order is whatever the engine sent.
type Series struct {
	Name    string   `json:"name"`
	Samples []Sample `json:"samples"`
}

// Len returns the number of samples.
func (s Series) Len() int { return len(s.Samples) }

// Title is the chart heading for the series.
func (s Series) Title() string {
	switch s.Name {
	case SeriesQueue:
		return "Queue Occupancy"
	case SeriesActiveWashes:
		return "Active Washes"
	case SeriesLostCars:
		return "Lost Cars"
	default:
		return s.Name
	}
}

// Result is the projected form of one successful run.
type Result struct {
	Metrics      Metrics `json:"metrics"`
	Queue        Series  `json:"queue"`
	ActiveWashes Series  `json:"active_washes"`
	LostCars     Series  `json:"lost_cars"`
}

// AllSeries returns the three series in display order.
func (r *Result) AllSeries() []Series {
	return []Series{r.Queue, r.ActiveWashes, r.LostCars}
}

// MalformedResponseError means the engine claimed success but left out a
// required part of the payload.
type MalformedResponseError struct {
	Missing string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed engine response: missing %s", e.Missing)
}

// Project derives a Result from reply. Empty or absent arrays become empty
// series; a missing metrics object, metric field or detailed_data fails.
func Project(reply *service.Reply) (*Result, error) {
	if reply == nil {
		return nil, &MalformedResponseError{Missing: "response"}
	}
	m := reply.Metrics
	if m == nil {
		return nil, &MalformedResponseError{Missing: "metrics"}
	}
	switch {
	case m.RenegedCars == nil:
		return nil, &MalformedResponseError{Missing: "metrics.reneged_cars"}
	case m.AvgWaitTime == nil:
		return nil, &MalformedResponseError{Missing: "metrics.avg_wait_time"}
	case m.LongestWaitTime == nil:
		return nil, &MalformedResponseError{Missing: "metrics.longest_wait_time"}
	}
	d := reply.DetailedData
	if d == nil {
		return nil, &MalformedResponseError{Missing: "detailed_data"}
	}

	return &Result{
		Metrics: Metrics{
			RenegedCars:     *m.RenegedCars,
			AvgWaitTime:     *m.AvgWaitTime,
			LongestWaitTime: *m.LongestWaitTime,
		},
		Queue:        project(SeriesQueue, d.QueueData),
		ActiveWashes: project(SeriesActiveWashes, d.CarWashData),
		LostCars:     project(SeriesLostCars, d.LostCarsData),
	}, nil
}

func project(name string, in []service.Sample) Series {
	out := make([]Sample, len(in))
	for i, s := range in {
		out[i] = Sample{Time: s.Time, Value: s.Value}
	}
	return Series{Name: name, Samples: out}
}

// FormatWait renders a wait time with at least one decimal place and no
// more precision than the value carries.
func FormatWait(v float64) string {
	text := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(text, ".eEIN") {
		text += ".0"
	}
	return text
}

// FormatCount renders an integer metric exactly.
func FormatCount(n int64) string {
	return strconv.FormatInt(n, 10)
}
