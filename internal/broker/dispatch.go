package broker

import (
	"context"
	"time"

	"taskflow/internal/logger"
	apperrors "taskflow/pkg/errors"
	"taskflow/pkg/events"
	"taskflow/pkg/logging"
	"taskflow/pkg/metrics"
)

const (
	OutcomeAck    = "ack"
	OutcomeReject = "reject"
)

// Dispatcher turns a raw delivery into a handler call. It is shared by every
// transport so decoding, panic recovery, logging and metrics behave the same
// whichever broker carries the bytes.
type Dispatcher struct {
	Logger  logger.Logger
	Service string
}

// Dispatch decodes body and runs handler. A nil result means the delivery
// must be acknowledged; an error means it must be rejected without requeue.
func (d Dispatcher) Dispatch(ctx context.Context, queue, routingKey string, body []byte, handler HandlerFunc) (err error) {
	start := time.Now()
	ctx = logging.WithRoutingKey(ctx, routingKey)
	if d.Service != "" && logging.GetServiceName(ctx) == "" {
		ctx = logging.WithServiceName(ctx, d.Service)
	}

	metrics.ObserveMessageSize(d.Service, "in", len(body))

	event, err := events.DecodeEnvelope(body)
	if err != nil {
		d.Logger.ErrorwCtx(ctx, "Rejecting undecodable delivery",
			"queue", queue,
			"error", err,
			"error_code", apperrors.Code(err),
		)
		metrics.IncConsumed(d.Service, queue, OutcomeReject)
		return err
	}

	ctx = WithEventFields(ctx, event)

	defer func() {
		if r := recover(); r != nil {
			err = apperrors.RecoverPanic(r)
			d.Logger.ErrorwCtx(ctx, "Panic recovered in handler",
				"queue", queue,
				"error", err,
				"stack_trace", apperrors.StackTrace(err),
			)
		}

		metrics.ObserveHandlerDuration(d.Service, queue, time.Since(start))
		if err != nil {
			metrics.IncConsumed(d.Service, queue, OutcomeReject)
			d.Logger.ErrorwCtx(ctx, "Handler failed, rejecting delivery",
				"queue", queue,
				"error", err,
			)
			return
		}
		metrics.IncConsumed(d.Service, queue, OutcomeAck)
		d.Logger.DebugwCtx(ctx, "Delivery acknowledged", "queue", queue)
	}()

	return handler(ctx, routingKey, event)
}

// WithEventFields adds the event's correlation ids to the logging context.
func WithEventFields(ctx context.Context, event events.Event) context.Context {
	ctx = logging.WithEventType(ctx, string(event.EventType()))
	switch e := event.(type) {
	case events.MessageReceived:
		ctx = logging.WithMessageID(ctx, e.MessageID)
	case events.TaskExtracted:
		ctx = logging.WithTaskID(ctx, e.TaskID)
		ctx = logging.WithMessageID(ctx, e.SourceMessageID)
	case events.TaskCreated:
		ctx = logging.WithTaskID(ctx, e.TaskID)
	case events.TaskFailed:
		ctx = logging.WithTaskID(ctx, e.TaskID)
	}
	return ctx
}
