package host

import (
	"context"

	"hie/internal/apperror"
	"hie/internal/config"
	"hie/internal/hl7"
	"hie/internal/logging"
	"hie/internal/message"
	"hie/internal/route"
)

// TransformFunc rewrites a message's bytes, named by a rule's
// TransformName. The production engine supplies the lookup; a process
// host that can't find a named transform logs and forwards unchanged.
type TransformFunc func(ctx context.Context, transformName string, msg *message.Message) ([]byte, error)

// ProcessHost runs a message through its routing engine and dispatches
// the result to zero or more targets, applying a named transform first
// when a rule calls for one.
type ProcessHost struct {
	*Base

	engine         *route.Engine
	rules          []config.RoutingRule
	defaultTargets []string
	schema         *hl7.Schema

	dispatch  DispatchFunc
	transform TransformFunc
}

// NewProcessHost builds a process host for item. schema may be nil if
// the process routes on raw content without parsing. Call SetDispatch
// (and SetTransform, if any rule uses action=transform) before Start.
func NewProcessHost(item *config.ItemConfig, schema *hl7.Schema) *ProcessHost {
	ph := &ProcessHost{
		engine:         route.NewEngine(item.Name),
		rules:          item.Rules,
		defaultTargets: item.TargetConfigNames,
		schema:         schema,
	}
	ph.Base = NewBase(item.Name, item, ph.process)
	return ph
}

// SetDispatch installs the function used to hand routed messages to
// their targets. Must be called before Start.
func (ph *ProcessHost) SetDispatch(fn DispatchFunc) { ph.dispatch = fn }

// SetTransform installs the function used to resolve a rule's
// TransformName into rewritten bytes.
func (ph *ProcessHost) SetTransform(fn TransformFunc) { ph.transform = fn }

func (ph *ProcessHost) process(ctx context.Context, msg *message.Message) ([]*message.Message, error) {
	var parsed *hl7.ParsedView
	if ph.schema != nil {
		if msg.Parsed() == nil {
			msg.WithSchema(ph.schema)
		}
		parsed = msg.Parsed()
	} else {
		parsed = hl7.NewSchema("", "", "").Parse(msg.RawBytes)
	}

	decision := ph.engine.Route(ph.rules, ph.defaultTargets, parsed)

	if decision.Dropped {
		logging.Log.Info("process host dropped message", "host", ph.Name(), "message_id", msg.ID)
		return nil, nil
	}
	if decision.Stopped {
		return nil, nil
	}
	if ph.dispatch == nil {
		return nil, nil
	}

	for _, tr := range decision.Targets {
		payload := msg.RawBytes
		if tr.TransformName != "" && ph.transform != nil {
			transformed, err := ph.transform(ctx, tr.TransformName, msg)
			if err != nil {
				logging.Log.Warn("transform failed, forwarding message unchanged",
					"host", ph.Name(), "transform", tr.TransformName, "error", err)
			} else {
				payload = transformed
			}
		}

		leg := msg.Derive(payload, msg.ContentType, tr.Target)
		if err := ph.dispatch(ctx, tr.Target, leg); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInternal, "dispatch to target failed")
		}
	}

	return nil, nil
}
