package ledger

import (
	"context"

	"github.com/textileio/lazyauction/cmd/bidledgerd/metrics"
	mh "github.com/textileio/lazyauction/metrics"
	"go.opentelemetry.io/otel/metric"
)

func (l *Ledger) initMetrics() {
	l.metricSubmitted = metrics.Meter.NewInt64Counter(metrics.Prefix + ".bids_submitted_total")
	l.metricCleared = metrics.Meter.NewInt64Counter(metrics.Prefix + ".bids_cleared_total")
}

func (l *Ledger) incr(ctx context.Context, err error, m metric.Int64Counter) {
	mh.MetricIncrCounter(ctx, err, m)
}
