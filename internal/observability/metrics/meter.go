// Copyright 2026 The OpenTrusty Authors
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

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter wraps OpenTelemetry meter
type Meter struct {
	meter metric.Meter
}

// New creates a new meter instance
func New(cfg Config, serviceName string) *Meter {
	if !cfg.Enabled {
		return &Meter{meter: noop.NewMeterProvider().Meter(serviceName)}
	}
	// the global provider is installed by whoever configures exporters
	return &Meter{meter: otel.Meter(serviceName)}
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

// CreateCounter creates a new counter metric
func (m *Meter) CreateCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(
		name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}

// CreateHistogram creates a new histogram metric
func (m *Meter) CreateHistogram(name, description, unit string) (metric.Float64Histogram, error) {
	histogram, err := m.meter.Float64Histogram(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return histogram, nil
}

// Instruments are the counters and histograms the server records.
type Instruments struct {
	requests       metric.Int64Counter
	duration       metric.Float64Histogram
	keyValidations metric.Int64Counter
}

// NewInstruments registers the server instruments on m.
func NewInstruments(m *Meter) (*Instruments, error) {
	requests, err := m.CreateCounter("trustcore.http.requests", "HTTP requests served")
	if err != nil {
		return nil, err
	}
	duration, err := m.CreateHistogram("trustcore.http.duration", "HTTP request duration", "s")
	if err != nil {
		return nil, err
	}
	validations, err := m.CreateCounter("trustcore.apikey.validations", "API key validations by outcome")
	if err != nil {
		return nil, err
	}
	return &Instruments{requests: requests, duration: duration, keyValidations: validations}, nil
}

// RecordRequest records one served HTTP request. route is the matched
// pattern, not the raw path, to keep cardinality bounded.
func (i *Instruments) RecordRequest(ctx context.Context, method, route string, status int, seconds float64) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	)
	i.requests.Add(ctx, 1, attrs)
	i.duration.Record(ctx, seconds, attrs)
}

// RecordKeyValidation records the outcome of one credential check. outcome
// is "ok" or a failure code.
func (i *Instruments) RecordKeyValidation(ctx context.Context, class, outcome string) {
	if i == nil {
		return
	}
	i.keyValidations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("key.class", class),
		attribute.String("outcome", outcome),
	))
}
