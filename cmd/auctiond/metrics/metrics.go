package metrics

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
)

// Prefix is prepended to every auctiond instrument name.
const Prefix = "auctiond"

// Meter is the auctiond meter.
var Meter = metric.Must(global.Meter(Prefix))
