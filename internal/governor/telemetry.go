package governor

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/davidahmann/canon/internal/governor"

type instruments struct {
	tracer         oteltrace.Tracer
	executed       metric.Int64Counter
	blocked        metric.Int64Counter
	verifyFailures metric.Int64Counter
}

func newInstruments(mp metric.MeterProvider, tp oteltrace.TracerProvider) (instruments, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	meter := mp.Meter(instrumentationName)

	var (
		in  = instruments{tracer: tp.Tracer(instrumentationName)}
		err error
	)
	in.executed, err = meter.Int64Counter("canon.actions.executed",
		metric.WithDescription("Actions executed and recorded in the ledger"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return instruments{}, err
	}
	in.blocked, err = meter.Int64Counter("canon.actions.blocked",
		metric.WithDescription("Actions refused at an ungated risk level"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return instruments{}, err
	}
	in.verifyFailures, err = meter.Int64Counter("canon.verify.failures",
		metric.WithDescription("Ledger entries that failed integrity verification"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return instruments{}, err
	}
	return in, nil
}
