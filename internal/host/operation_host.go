package host

import (
	"context"
	"time"

	"hie/internal/adapter"
	"hie/internal/apperror"
	"hie/internal/config"
	"hie/internal/hl7"
	"hie/internal/logging"
	"hie/internal/message"
)

// OperationHost sends each message it receives through a bound outbound
// adapter, then interprets the adapter's ACK via ReplyCodeActions to
// decide whether to mark the message completed, fail it, retry it, or
// log a warning and treat it as success.
type OperationHost struct {
	*Base

	adapter      adapter.Outbound
	schema       *hl7.Schema
	replyActions *ReplyCodeActions
	maxRetries   int
	retryDelay   time.Duration
}

// NewOperationHost builds an operation host for item, bound to out. A
// nil schema means ACK codes can't be parsed from the reply, so every
// send is treated as AA (success) once the adapter itself reports no
// transport error.
func NewOperationHost(item *config.ItemConfig, out adapter.Outbound, schema *hl7.Schema) *OperationHost {
	oh := &OperationHost{
		adapter: out,
		schema:  schema,
		replyActions: ParseReplyCodeActions(
			item.SettingString(config.SettingTargetHost, "ReplyCodeActions", "")),
		maxRetries: item.SettingInt(config.SettingTargetHost, "MaxRetries", 3),
		retryDelay: time.Duration(item.SettingInt(config.SettingTargetHost, "RetryIntervalSeconds", 10)) * time.Second,
	}
	oh.Base = NewBase(item.Name, item, oh.process)
	oh.Base.SetHooks(LifecycleHooks{OnStart: oh.onStart, OnStop: oh.onStop})
	return oh
}

func (oh *OperationHost) onStart(ctx context.Context) error { return oh.adapter.Start(ctx) }
func (oh *OperationHost) onStop(ctx context.Context) error  { return oh.adapter.Stop(ctx) }

func (oh *OperationHost) process(ctx context.Context, msg *message.Message) ([]*message.Message, error) {
	reply, err := oh.adapter.Send(ctx, msg.RawBytes)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeConnection, "send failed")
	}

	ackCode := "AA"
	if oh.schema != nil && len(reply) > 0 {
		ackCode = oh.schema.Parse(reply).GetField("MSA-1", "AA")
	}

	switch oh.replyActions.Evaluate(ackCode) {
	case ReplyActionSuccess:
		msg.Status = message.StatusCompleted
		return nil, nil

	case ReplyActionWarning:
		logging.Log.Warn("operation host received warning ack", "host", oh.Name(), "message_id", msg.ID, "ack_code", ackCode)
		msg.Status = message.StatusCompleted
		return nil, nil

	case ReplyActionRetry:
		if msg.RetryCount >= oh.maxRetries {
			return nil, apperror.New(apperror.CodeConnection, "retries exhausted for ack code "+ackCode)
		}
		retryMsg := msg.WithRawBytes(msg.RawBytes)
		retryMsg.RetryCount = msg.RetryCount + 1
		retryMsg.Status = message.StatusQueued
		go oh.scheduleRetry(retryMsg)
		return nil, nil

	default: // ReplyActionFail
		return nil, apperror.New(apperror.CodeConnection, "send rejected with ack code "+ackCode)
	}
}

// scheduleRetry resubmits msg to this host's own queue after
// retryDelay, the same backoff the spec describes for operation-level
// retry actions.
func (oh *OperationHost) scheduleRetry(msg *message.Message) {
	time.Sleep(oh.retryDelay)
	if err := oh.SubmitNoWait(msg); err != nil {
		logging.Log.Error("operation host retry resubmit failed", "host", oh.Name(), "message_id", msg.ID, "error", err)
	}
}
