package host

import (
	"context"

	"hie/internal/adapter"
	"hie/internal/apperror"
	"hie/internal/config"
	"hie/internal/hl7"
	"hie/internal/logging"
	"hie/internal/message"
)

// AckMode controls whether and when a service host writes an
// acknowledgment back to the inbound adapter.
type AckMode string

const (
	// AckImmediate writes an ACK as soon as the message is parsed and
	// validated, before it is handed off for routing/delivery.
	AckImmediate AckMode = "Immediate"
	// AckApplication defers the ACK to the receiving application. This
	// exercise's process/operation hosts don't carry an async
	// reply-back channel to the originating service host, so
	// AckApplication is treated the same as AckImmediate: the ACK
	// still reflects parse/validation outcome rather than a
	// downstream delivery result.
	AckApplication AckMode = "Application"
	// AckNever suppresses ACK generation entirely.
	AckNever AckMode = "Never"
)

// DispatchFunc hands a message to a named target item's queue. The
// production engine supplies this once every item is instantiated.
type DispatchFunc func(ctx context.Context, targetName string, msg *message.Message) error

// ServiceHost receives data from a bound inbound adapter, optionally
// parses/validates it against an HL7 schema, generates an ACK per
// AckMode, and forwards the resulting message to every configured
// target.
type ServiceHost struct {
	*Base

	adapter           adapter.Inbound
	schema            *hl7.Schema
	ackMode           AckMode
	targetConfigNames []string
	dispatch          DispatchFunc
}

// NewServiceHost builds a service host for item, bound to in and
// (optionally) schema. Call SetDispatch before Start.
func NewServiceHost(item *config.ItemConfig, in adapter.Inbound, schema *hl7.Schema) *ServiceHost {
	sh := &ServiceHost{
		adapter:           in,
		schema:            schema,
		ackMode:           AckMode(item.SettingString(config.SettingTargetHost, "AckMode", string(AckImmediate))),
		targetConfigNames: item.TargetConfigNames,
	}
	sh.Base = NewBase(item.Name, item, sh.process)
	sh.Base.SetHooks(LifecycleHooks{OnStart: sh.onStart, OnStop: sh.onStop})
	return sh
}

// SetDispatch installs the function used to hand routed messages to
// their targets. Must be called before Start.
func (sh *ServiceHost) SetDispatch(fn DispatchFunc) { sh.dispatch = fn }

func (sh *ServiceHost) onStart(ctx context.Context) error {
	return sh.adapter.Start(ctx, sh.onDataReceived)
}

func (sh *ServiceHost) onStop(ctx context.Context) error {
	return sh.adapter.Stop(ctx)
}

// onDataReceived is the adapter.DataHandler bound to the inbound
// adapter: it builds a Message, parses/validates it when a schema is
// bound, generates an ACK per AckMode, and enqueues the message for the
// process worker loop to dispatch to targets.
func (sh *ServiceHost) onDataReceived(ctx context.Context, payload []byte) ([]byte, error) {
	sh.RecordReceived(len(payload))

	msg := message.New(payload, "x-application/hl7-v2+er7", sh.Name())

	var ack []byte
	if sh.schema != nil {
		msg.WithSchema(sh.schema)
		parsed := msg.Parsed()
		msg.MessageType = parsed.GetMessageType()
		if controlID := parsed.GetField("MSH-10", ""); controlID != "" {
			msg.CorrelationID = controlID
		}

		validationErrors := sh.schema.Validate(payload)
		ackCode := "AA"
		if len(validationErrors) > 0 {
			ackCode = "AE"
			msg.Status = message.StatusError
			logging.Log.Warn("inbound message failed validation",
				"host", sh.Name(), "message_id", msg.ID, "errors", len(validationErrors))
		}

		if sh.ackMode != AckNever {
			ack = sh.schema.CreateAck(parsed, ackCode, "")
		}
	}

	if err := sh.SubmitNoWait(msg); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeBackpressure, "service host queue full")
	}
	return ack, nil
}

// process hands the dequeued message to every configured target via
// dispatch. It returns no results: delivery happens here, directly,
// rather than through Base's downstream-forwarding path.
func (sh *ServiceHost) process(ctx context.Context, msg *message.Message) ([]*message.Message, error) {
	if sh.dispatch == nil || len(sh.targetConfigNames) == 0 {
		return nil, nil
	}
	for _, target := range sh.targetConfigNames {
		leg := msg.Derive(msg.RawBytes, msg.ContentType, target)
		if err := sh.dispatch(ctx, target, leg); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInternal, "dispatch to target failed")
		}
	}
	return nil, nil
}
