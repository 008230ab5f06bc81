package auctioneer

import (
	"context"

	"github.com/textileio/lazyauction/cmd/auctiond/metrics"
	mh "github.com/textileio/lazyauction/metrics"
	"go.opentelemetry.io/otel/metric"
)

func (a *Auctioneer) initMetrics() {
	a.metricCreated = metrics.Meter.NewInt64Counter(metrics.Prefix + ".auctions_created_total")
	a.metricPicked = metrics.Meter.NewInt64Counter(metrics.Prefix + ".winners_picked_total")
	a.metricCancelled = metrics.Meter.NewInt64Counter(metrics.Prefix + ".auctions_cancelled_total")
}

func (a *Auctioneer) incr(ctx context.Context, err error, m metric.Int64Counter) {
	mh.MetricIncrCounter(ctx, err, m)
}
