package route

import (
	"hie/internal/config"
	"hie/internal/hl7"
	"hie/internal/logging"
)

// TargetRoute pairs a destination item name with the transform (if any)
// applied to the message before it reaches that target.
type TargetRoute struct {
	Target        string
	TransformName string
}

// Decision is the outcome of evaluating a process's rules against one
// message.
type Decision struct {
	Targets []TargetRoute
	Dropped bool // an "action = delete" rule matched
	Stopped bool // an "action = stop" rule matched
}

// Engine evaluates a process's routing rules against parsed messages.
// Condition ASTs are cached per rule so repeated messages through the
// same process don't re-parse the expression every time.
type Engine struct {
	processName string
	cache       conditionCache
}

// conditionCache is where Engine keeps parsed condition ASTs; NewEngine
// always installs a mapCache.
type conditionCache interface {
	Get(key string) (node, bool)
	Set(key string, n node)
}

// mapCache is the default conditionCache: an unbounded map guarded by
// the fact that the rule set (and therefore the key space) is fixed
// per-process at load time.
type mapCache struct{ m map[string]node }

func newMapCache() *mapCache { return &mapCache{m: make(map[string]node)} }

func (c *mapCache) Get(key string) (node, bool) { n, ok := c.m[key]; return n, ok }
func (c *mapCache) Set(key string, n node)      { c.m[key] = n }

// NewEngine creates a routing engine for the named process.
func NewEngine(processName string) *Engine {
	return &Engine{processName: processName, cache: newMapCache()}
}

// Route evaluates rules, already attached to this process, against
// parsed in priority (then definition) order, returning the routing
// decision. defaultTargets is used verbatim (no transform) if no rule
// matches.
func (e *Engine) Route(rules []config.RoutingRule, defaultTargets []string, parsed *hl7.ParsedView) Decision {
	ordered := config.SortRulesByPriority(rules)
	appliedTransform := ""

	for _, rule := range ordered {
		if !rule.Enabled {
			continue
		}

		matched, err := e.evalCached(rule.Name, rule.Condition, parsed)
		if err != nil {
			logging.Log.Warn("routing condition error", "process", e.processName, "rule", rule.Name, "error", err)
			continue
		}
		if !matched {
			continue
		}

		switch rule.Action {
		case config.RuleActionTransform:
			appliedTransform = rule.TransformName
			continue
		case config.RuleActionDelete:
			return Decision{Dropped: true}
		case config.RuleActionStop:
			return Decision{Stopped: true}
		case config.RuleActionSend:
			targets := make([]TargetRoute, 0, len(rule.Targets))
			for _, t := range rule.Targets {
				targets = append(targets, TargetRoute{Target: t, TransformName: appliedTransform})
			}
			return Decision{Targets: targets}
		}
	}

	if len(defaultTargets) == 0 {
		return Decision{}
	}
	targets := make([]TargetRoute, 0, len(defaultTargets))
	for _, t := range defaultTargets {
		targets = append(targets, TargetRoute{Target: t})
	}
	return Decision{Targets: targets}
}

func (e *Engine) evalCached(ruleName, condition string, parsed *hl7.ParsedView) (bool, error) {
	key := e.processName + "/" + ruleName
	if n, ok := e.cache.Get(key); ok {
		if n == nil {
			return true, nil // empty condition, cached as always-true
		}
		return n.eval(parsed), nil
	}

	if condition == "" {
		e.cache.Set(key, nil)
		return true, nil
	}

	n, err := parseCondition(condition)
	if err != nil {
		return false, err
	}
	e.cache.Set(key, n)
	return n.eval(parsed), nil
}
