// Package metrics holds helpers shared by the daemons' OpenTelemetry instruments.
package metrics

import (
	"context"
	"time"

	"github.com/textileio/lazyauction/auction"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// AttrOK is a metric tag to indicate a successful operation.
	AttrOK = attribute.Key("status").String("ok")
	// AttrError is a metric tag to indicate a failed operation.
	AttrError = attribute.Key("status").String("error")
)

// AttrKind tags a failed operation with its error kind.
func AttrKind(err error) attribute.KeyValue {
	return attribute.Key("kind").String(auction.Kind(err))
}

// MetricIncrCounter increments the specified Int64Counter by 1. Depending if err
// is nil or not, it will use AttrOK or AttrError respectively, and failures are
// also tagged with their error kind. This method is a helper for deferring in methods.
func MetricIncrCounter(ctx context.Context, err error, m metric.Int64Counter, labels ...attribute.KeyValue) {
	attrs := append(labels, AttrOK)
	if err != nil {
		attrs = append(labels, AttrError, AttrKind(err))
	}
	m.Add(ctx, 1, attrs...)
}

// MetricRecordDuration records the milliseconds elapsed since start.
func MetricRecordDuration(ctx context.Context, start time.Time, m metric.Int64Histogram, labels ...attribute.KeyValue) {
	m.Record(ctx, time.Since(start).Milliseconds(), labels...)
}
