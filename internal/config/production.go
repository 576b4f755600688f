package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ItemType is the role an item plays in a production.
type ItemType string

const (
	ItemTypeService   ItemType = "service"
	ItemTypeProcess   ItemType = "process"
	ItemTypeOperation ItemType = "operation"
)

// SettingTarget is which part of an item a setting configures.
type SettingTarget string

const (
	SettingTargetAdapter SettingTarget = "adapter"
	SettingTargetHost    SettingTarget = "host"
)

// ItemSetting is one `(target, name) -> value` entry from an item's
// settings bag. Values are strings on the wire; typed accessors on
// ItemConfig convert them on demand.
type ItemSetting struct {
	Target SettingTarget `yaml:"target"`
	Name   string        `yaml:"name"`
	Value  string        `yaml:"value"`
}

// ItemConfig is the immutable snapshot used to build one host.
type ItemConfig struct {
	Name              string        `yaml:"name"`
	ClassName         string        `yaml:"class_name"`
	ItemType          ItemType      `yaml:"type"`
	PoolSize          int           `yaml:"pool_size"`
	Enabled           bool          `yaml:"enabled"`
	Category          string        `yaml:"category"`
	Comment           string        `yaml:"comment,omitempty"`
	Foreground        bool          `yaml:"foreground,omitempty"`
	LogTraceEvents    bool          `yaml:"log_trace_events,omitempty"`
	Schedule          string        `yaml:"schedule,omitempty"`
	TargetConfigNames []string      `yaml:"target_config_names"`
	Settings          []ItemSetting `yaml:"settings"`
	Rules             []RoutingRule `yaml:"rules"`
}

// Setting returns the raw string value of the first setting matching
// target/name, or (def, false) if absent.
func (i *ItemConfig) Setting(target SettingTarget, name, def string) (string, bool) {
	for _, s := range i.Settings {
		if s.Target == target && s.Name == name {
			return s.Value, true
		}
	}
	return def, false
}

// SettingString is Setting with only the value returned, defaulting to def.
func (i *ItemConfig) SettingString(target SettingTarget, name, def string) string {
	v, _ := i.Setting(target, name, def)
	return v
}

// SettingInt parses a setting as an int, returning def on absence or
// parse failure.
func (i *ItemConfig) SettingInt(target SettingTarget, name string, def int) int {
	v, ok := i.Setting(target, name, "")
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// SettingBool parses a setting as a bool ("true"/"1"/"yes", case
// insensitive, are truthy), returning def on absence.
func (i *ItemConfig) SettingBool(target SettingTarget, name string, def bool) bool {
	v, ok := i.Setting(target, name, "")
	if !ok || v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return def
	}
}

// ProductionConfig is a named collection of items, matching IRIS's
// <Production> structure.
type ProductionConfig struct {
	Name                  string      `yaml:"name"`
	Description           string      `yaml:"description"`
	TestingEnabled        bool        `yaml:"testing_enabled"`
	LogGeneralTraceEvents bool        `yaml:"log_general_trace_events"`
	ActorPoolSize         int         `yaml:"actor_pool_size"`
	Items                 []ItemConfig `yaml:"items"`
}

// EnabledItems returns only items with Enabled set.
func (p *ProductionConfig) EnabledItems() []ItemConfig {
	var out []ItemConfig
	for _, item := range p.Items {
		if item.Enabled {
			out = append(out, item)
		}
	}
	return out
}

func (p *ProductionConfig) itemsOfType(t ItemType) []ItemConfig {
	var out []ItemConfig
	for _, item := range p.Items {
		if item.ItemType == t {
			out = append(out, item)
		}
	}
	return out
}

// Services returns all service (inbound) items.
func (p *ProductionConfig) Services() []ItemConfig { return p.itemsOfType(ItemTypeService) }

// Processes returns all process (routing) items.
func (p *ProductionConfig) Processes() []ItemConfig { return p.itemsOfType(ItemTypeProcess) }

// Operations returns all operation (outbound) items.
func (p *ProductionConfig) Operations() []ItemConfig { return p.itemsOfType(ItemTypeOperation) }

// GetItem returns the item named name, or nil.
func (p *ProductionConfig) GetItem(name string) *ItemConfig {
	for i := range p.Items {
		if p.Items[i].Name == name {
			return &p.Items[i]
		}
	}
	return nil
}

// GetItemsByCategory returns items whose category contains category
// (case-insensitive substring match).
func (p *ProductionConfig) GetItemsByCategory(category string) []ItemConfig {
	var out []ItemConfig
	category = strings.ToLower(category)
	for _, item := range p.Items {
		if strings.Contains(strings.ToLower(item.Category), category) {
			out = append(out, item)
		}
	}
	return out
}

// ValidateTargets checks that every item's TargetConfigNames references
// an existing item, returning one error message per bad reference.
func (p *ProductionConfig) ValidateTargets() []string {
	names := make(map[string]bool, len(p.Items))
	for _, item := range p.Items {
		names[item.Name] = true
	}

	var errs []string
	for _, item := range p.Items {
		for _, target := range item.TargetConfigNames {
			if !names[target] {
				errs = append(errs, fmt.Sprintf("item %q references unknown target %q", item.Name, target))
			}
		}
	}
	return errs
}

// validReplyCodeActions is the closed set of action letters the
// ReplyCodeActions grammar accepts: Success, Fail, Retry, Warning.
var validReplyCodeActions = map[string]bool{"S": true, "F": true, "R": true, "W": true}

// ValidateReplyCodeActions checks every operation item's ReplyCodeActions
// setting string and returns one error message per entry using an action
// letter outside {S,F,R,W}. Called at load time so a malformed production
// configuration is rejected up front rather than falling back silently
// at runtime.
func (p *ProductionConfig) ValidateReplyCodeActions() []string {
	var errs []string
	for _, item := range p.Items {
		if item.ItemType != ItemTypeOperation {
			continue
		}
		raw, ok := item.Setting(SettingTargetHost, "ReplyCodeActions", "")
		if !ok || raw == "" {
			continue
		}
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			eq := strings.IndexByte(part, '=')
			if eq < 0 {
				errs = append(errs, fmt.Sprintf("item %q has malformed ReplyCodeActions entry %q", item.Name, part))
				continue
			}
			action := strings.ToUpper(strings.TrimSpace(part[eq+1:]))
			if !validReplyCodeActions[action] {
				errs = append(errs, fmt.Sprintf("item %q has unknown ReplyCodeActions action %q", item.Name, action))
			}
		}
	}
	return errs
}

// DependencyOrder returns enabled item names in startup order: operations
// first (they have no upstream dependency within the production), then
// processes, then services — ensuring a target always exists before the
// source that sends to it starts accepting traffic.
func (p *ProductionConfig) DependencyOrder() []string {
	order := make([]string, 0, len(p.Items))
	for _, item := range p.EnabledItems() {
		if item.ItemType == ItemTypeOperation {
			order = append(order, item.Name)
		}
	}
	for _, item := range p.EnabledItems() {
		if item.ItemType == ItemTypeProcess {
			order = append(order, item.Name)
		}
	}
	for _, item := range p.EnabledItems() {
		if item.ItemType == ItemTypeService {
			order = append(order, item.Name)
		}
	}
	return order
}

// RoutingRule is one entry in a process item's routing table.
type RoutingRule struct {
	Name          string     `yaml:"name"`
	Priority      int        `yaml:"priority"`
	Enabled       bool       `yaml:"enabled"`
	Condition     string     `yaml:"condition"`
	Action        RuleAction `yaml:"action"`
	Targets       []string   `yaml:"targets"`
	TransformName string     `yaml:"transform_name"`
}

// RuleAction is what a matched routing rule does with the message.
type RuleAction string

const (
	RuleActionSend      RuleAction = "send"
	RuleActionTransform RuleAction = "transform"
	RuleActionStop      RuleAction = "stop"
	RuleActionDelete    RuleAction = "delete"
)

// SortRulesByPriority sorts rules by descending priority, then by their
// original definition order (stable sort preserves ties).
func SortRulesByPriority(rules []RoutingRule) []RoutingRule {
	sorted := make([]RoutingRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return sorted
}
