package metrics

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
)

// Prefix is prepended to every bidledgerd instrument name.
const Prefix = "bidledgerd"

// Meter is the bidledgerd meter.
var Meter = metric.Must(global.Meter(Prefix))
