package session

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/banshee-data/occupancy.report/internal/lot"
)

// Instrumented wraps parking transitions with spans and counters.
type Instrumented struct {
	tracer trace.Tracer

	parkOperations    metric.Int64Counter
	leaveOperations   metric.Int64Counter
	feesCollected     metric.Float64Counter
	operationDuration metric.Float64Histogram
}

// NewInstrumented creates the instruments on meter.
func NewInstrumented(tracer trace.Tracer, meter metric.Meter) (*Instrumented, error) {
	parkOperations, err := meter.Int64Counter("parking_session_park_total",
		metric.WithDescription("Total number of park attempts"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	leaveOperations, err := meter.Int64Counter("parking_session_leave_total",
		metric.WithDescription("Total number of leave attempts"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	feesCollected, err := meter.Float64Counter("parking_session_fees_total",
		metric.WithDescription("Fees deducted from driver balances"),
		metric.WithUnit("USD"))
	if err != nil {
		return nil, err
	}

	operationDuration, err := meter.Float64Histogram("parking_session_operation_duration_seconds",
		metric.WithDescription("Duration of parking session operations"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Instrumented{
		tracer:            tracer,
		parkOperations:    parkOperations,
		leaveOperations:   leaveOperations,
		feesCollected:     feesCollected,
		operationDuration: operationDuration,
	}, nil
}

// ParkIn calls d.ParkIn inside a span.
func (in *Instrumented) ParkIn(ctx context.Context, d *Driver, l *lot.Lot, spotID int) error {
	ctx, span := in.tracer.Start(ctx, "session.park_in",
		trace.WithAttributes(
			attribute.Int("driver.user_id", d.UserID()),
			attribute.String("lot.name", l.Name()),
			attribute.Int("spot.id", spotID),
		))
	defer span.End()

	start := time.Now()
	err := d.ParkIn(l, spotID)
	duration := time.Since(start).Seconds()

	labels := []attribute.KeyValue{
		attribute.String("operation", "park"),
		attribute.String("lot", l.Name()),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		labels = append(labels, attribute.String("status", "failed"))
	} else {
		labels = append(labels, attribute.String("status", "success"))
		span.AddEvent("fee_deducted", trace.WithAttributes(
			attribute.Float64("fee", l.Fee()),
			attribute.Float64("balance", d.Balance()),
		))
		in.feesCollected.Add(ctx, l.Fee(), metric.WithAttributes(attribute.String("lot", l.Name())))
	}

	in.parkOperations.Add(ctx, 1, metric.WithAttributes(labels...))
	in.operationDuration.Record(ctx, duration, metric.WithAttributes(labels...))
	return err
}

// LeaveParkingLot calls d.LeaveParkingLot inside a span.
func (in *Instrumented) LeaveParkingLot(ctx context.Context, d *Driver) (Parking, error) {
	ctx, span := in.tracer.Start(ctx, "session.leave_parking_lot",
		trace.WithAttributes(attribute.Int("driver.user_id", d.UserID())))
	defer span.End()

	start := time.Now()
	p, err := d.LeaveParkingLot()
	duration := time.Since(start).Seconds()

	labels := []attribute.KeyValue{attribute.String("operation", "leave")}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		labels = append(labels, attribute.String("status", "failed"))
	} else {
		span.SetAttributes(
			attribute.String("lot.name", p.Lot.Name()),
			attribute.Int("spot.id", p.SpotID),
		)
		labels = append(labels,
			attribute.String("status", "success"),
			attribute.String("lot", p.Lot.Name()),
		)
	}

	in.leaveOperations.Add(ctx, 1, metric.WithAttributes(labels...))
	in.operationDuration.Record(ctx, duration, metric.WithAttributes(labels...))
	return p, err
}
