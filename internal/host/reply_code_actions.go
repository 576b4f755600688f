package host

import "strings"

// ReplyAction is the disposition an operation host applies to a sent
// message after evaluating its ACK code against ReplyCodeActions.
type ReplyAction string

const (
	ReplyActionSuccess ReplyAction = "S"
	ReplyActionFail    ReplyAction = "F"
	ReplyActionRetry   ReplyAction = "R"
	ReplyActionWarning ReplyAction = "W"
)

type replyCodeRule struct {
	pattern string
	action  ReplyAction
}

// ReplyCodeActions maps HL7 MSA-1 acknowledgment codes (AA/AE/AR/CA/CE/CR)
// to a ReplyAction, per an operation's `:PATTERN=ACTION,...` settings
// string. First matching pattern wins; an unmatched code defaults to
// success unless a catch-all `*` pattern says otherwise.
type ReplyCodeActions struct {
	rules []replyCodeRule
}

// ParseReplyCodeActions parses a settings string such as
// ":AA=S,:AE=F,:AR=F,?R=R,*=S" into a ReplyCodeActions evaluator. An
// empty or entirely unparseable string yields the default "*=S" rule.
func ParseReplyCodeActions(spec string) *ReplyCodeActions {
	rules := make([]replyCodeRule, 0, 4)

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}
		pattern := strings.TrimSpace(part[:eq])
		pattern = strings.TrimPrefix(pattern, ":")
		action := strings.ToUpper(strings.TrimSpace(part[eq+1:]))
		if pattern == "" || action == "" {
			continue
		}
		rules = append(rules, replyCodeRule{pattern: pattern, action: ReplyAction(action)})
	}

	if len(rules) == 0 {
		rules = append(rules, replyCodeRule{pattern: "*", action: ReplyActionSuccess})
	}

	return &ReplyCodeActions{rules: rules}
}

// Evaluate returns the action bound to ackCode (an MSA-1 value such as
// "AA", "AE", "CR"). Evaluation order is the order rules were parsed in;
// a catch-all "*" matches anything. If nothing matches, the default is
// success, matching spec's "unmatched -> S if no * provided" rule.
func (r *ReplyCodeActions) Evaluate(ackCode string) ReplyAction {
	ackCode = strings.ToUpper(strings.TrimSpace(ackCode))

	for _, rule := range r.rules {
		if patternMatches(rule.pattern, ackCode) {
			return rule.action
		}
	}
	return ReplyActionSuccess
}

func patternMatches(pattern, ackCode string) bool {
	switch pattern {
	case "*":
		return true
	case "?E":
		return ackCode == "AE" || ackCode == "CE"
	case "?R":
		return ackCode == "AR" || ackCode == "CR"
	default:
		return strings.EqualFold(pattern, ackCode)
	}
}
