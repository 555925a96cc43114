// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package prometheus writes paging counters in the Prometheus text
// exposition format.
//
// Only integer gauges and counters are supported. Every value carries the
// timestamp of the snapshot it belongs to.
package prometheus

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"
)

// timeNow is the time.Now() function. Can be mocked in tests.
var timeNow = time.Now

// Type is a Prometheus metric type.
type Type int

// List of supported Prometheus metric types.
const (
	TypeUntyped = Type(iota)
	TypeGauge
	TypeCounter
)

// String returns the name used on the TYPE line.
func (t Type) String() string {
	switch t {
	case TypeGauge:
		return "gauge"
	case TypeCounter:
		return "counter"
	default:
		return "untyped"
	}
}

// Metric is a Prometheus metric metadata.
type Metric struct {
	// Name is the Prometheus metric name, without the exporter prefix.
	Name string

	// Type is the type of the metric.
	Type Type

	// Help is an optional string explaining what the metric is about.
	Help string
}

// Data is an observation of a single metric.
type Data struct {
	// Metric is the metric for which the value is being reported.
	Metric *Metric

	// Labels distinguishes observations of the same metric.
	Labels map[string]string

	// Value is the observed value.
	Value uint64
}

// NewData returns a new unlabeled observation.
func NewData(metric *Metric, val uint64) *Data {
	return &Data{Metric: metric, Value: val}
}

// LabeledData returns a new labeled observation.
func LabeledData(metric *Metric, labels map[string]string, val uint64) *Data {
	return &Data{Metric: metric, Labels: labels, Value: val}
}

// Snapshot is the value of a set of metrics at a point in time.
type Snapshot struct {
	// When is the time the snapshot was taken. Prometheus encodes it as
	// milliseconds since the epoch.
	When time.Time

	// Data holds the observations. Observations of the same metric must
	// be adjacent and each (Metric, Labels) pair must be unique.
	Data []*Data
}

// NewSnapshot returns a new Snapshot at the current time.
func NewSnapshot() *Snapshot {
	return &Snapshot{When: timeNow()}
}

// Add data point(s) to the snapshot.
// Returns itself for chainability.
func (s *Snapshot) Add(data ...*Data) *Snapshot {
	s.Data = append(s.Data, data...)
	return s
}

// ExportOptions controls how a snapshot is written.
type ExportOptions struct {
	// CommentHeader is written as a comment before any data.
	CommentHeader string

	// ExporterPrefix is prepended to all metric names.
	ExporterPrefix string
}

// escapeHelp applies the HELP line escaping rules: only backslashes and line
// breaks are escaped.
func escapeHelp(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), "\n", `\n`)
}

// orderedLabels returns the 'key="value"' pairs of labels in sorted order.
func orderedLabels(labels map[string]string) []string {
	pairs := make([]string, 0, len(labels))
	for k, v := range labels {
		pairs = append(pairs, fmt.Sprintf("%s=%q", k, v))
	}
	slices.Sort(pairs)
	return pairs
}

// countingWriter counts the bytes that reach the underlying writer.
type countingWriter struct {
	w       *bufio.Writer
	written int
}

// Write implements io.Writer.Write.
func (w *countingWriter) Write(b []byte) (int, error) {
	n, err := w.w.Write(b)
	w.written += n
	return n, err
}

// Written returns the number of bytes flushed to the underlying writer.
func (w *countingWriter) Written() int {
	return w.written - w.w.Buffered()
}

// Write writes s to w in Prometheus text format and returns the number of
// bytes written.
func Write(w io.Writer, options ExportOptions, s *Snapshot) (int, error) {
	cw := &countingWriter{w: bufio.NewWriter(w)}
	if options.CommentHeader != "" {
		for _, line := range strings.Split(options.CommentHeader, "\n") {
			if _, err := fmt.Fprintf(cw, "# %s\n", line); err != nil {
				return cw.Written(), err
			}
		}
	}
	when := s.When.UnixMilli()
	written := make(map[string]bool)
	var last string
	for _, d := range s.Data {
		name := options.ExporterPrefix + d.Metric.Name
		if name != last {
			if written[name] {
				return cw.Written(), fmt.Errorf("observations of metric %q are not adjacent", name)
			}
			written[name] = true
			last = name
			if _, err := io.WriteString(cw, "\n"); err != nil {
				return cw.Written(), err
			}
			if d.Metric.Help != "" {
				if _, err := fmt.Fprintf(cw, "# HELP %s %s\n", name, escapeHelp(d.Metric.Help)); err != nil {
					return cw.Written(), err
				}
			}
			if _, err := fmt.Fprintf(cw, "# TYPE %s %s\n", name, d.Metric.Type); err != nil {
				return cw.Written(), err
			}
		}
		labels := ""
		if len(d.Labels) != 0 {
			labels = "{" + strings.Join(orderedLabels(d.Labels), ",") + "}"
		}
		if _, err := fmt.Fprintf(cw, "%s%s %d %d\n", name, labels, d.Value, when); err != nil {
			return cw.Written(), err
		}
	}
	if err := cw.w.Flush(); err != nil {
		return cw.Written(), err
	}
	return cw.Written(), nil
}
