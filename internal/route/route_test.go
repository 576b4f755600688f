package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hie/internal/config"
	"hie/internal/hl7"
)

func parsedADT(t *testing.T) *hl7.ParsedView {
	t.Helper()
	schema := hl7.NewSchema("ADT", "2.4", "")
	return schema.Parse([]byte("MSH|^~\\&|A|B|C|D|20240101||ADT^A01|1|P|2.4|||||GB|UNICODE\rPID|1||1234^^^MRN||DOE^JOHN"))
}

func TestEvaluate_EmptyConditionAlwaysTrue(t *testing.T) {
	ok, err := Evaluate("", parsedADT(t))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_FieldEquals(t *testing.T) {
	ok, err := Evaluate(`{MSH-9.1} = "ADT"`, parsedADT(t))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_FieldNotEquals(t *testing.T) {
	ok, err := Evaluate(`{MSH-9.1} != "ORU"`, parsedADT(t))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_Contains(t *testing.T) {
	ok, err := Evaluate(`{PID-5} Contains "DOE"`, parsedADT(t))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_MissingFieldIsEmptyNotError(t *testing.T) {
	ok, err := Evaluate(`{ZZZ-1} = ""`, parsedADT(t))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_InSet(t *testing.T) {
	ok, err := Evaluate(`{MSH-9.1} IN ("ADT", "ORU")`, parsedADT(t))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_AndOrNotParens(t *testing.T) {
	ok, err := Evaluate(`({MSH-9.1} = "ADT" AND NOT {PID-5} Contains "SMITH") OR {MSH-9.1} = "ORU"`, parsedADT(t))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_InvalidConditionReturnsError(t *testing.T) {
	_, err := Evaluate(`{MSH-9.1} =`, parsedADT(t))
	assert.Error(t, err)
}

func TestEngine_FirstMatchWins(t *testing.T) {
	rules := []config.RoutingRule{
		{Name: "low", Priority: 10, Enabled: true, Condition: "", Action: config.RuleActionSend, Targets: []string{"LowTarget"}},
		{Name: "high", Priority: 100, Enabled: true, Condition: "", Action: config.RuleActionSend, Targets: []string{"HighTarget"}},
	}
	e := NewEngine("TestProcess")
	d := e.Route(rules, nil, parsedADT(t))
	require.Len(t, d.Targets, 1)
	assert.Equal(t, "HighTarget", d.Targets[0].Target)
}

func TestEngine_TransformThenSendCarriesTransformName(t *testing.T) {
	rules := []config.RoutingRule{
		{Name: "xform", Priority: 100, Enabled: true, Condition: "", Action: config.RuleActionTransform, TransformName: "NormalizeADT"},
		{Name: "send", Priority: 50, Enabled: true, Condition: "", Action: config.RuleActionSend, Targets: []string{"LabOutbound"}},
	}
	e := NewEngine("TestProcess")
	d := e.Route(rules, nil, parsedADT(t))
	require.Len(t, d.Targets, 1)
	assert.Equal(t, "LabOutbound", d.Targets[0].Target)
	assert.Equal(t, "NormalizeADT", d.Targets[0].TransformName)
}

func TestEngine_DeleteDropsMessage(t *testing.T) {
	rules := []config.RoutingRule{
		{Name: "drop", Priority: 100, Enabled: true, Condition: "", Action: config.RuleActionDelete},
	}
	e := NewEngine("TestProcess")
	d := e.Route(rules, []string{"Default"}, parsedADT(t))
	assert.True(t, d.Dropped)
	assert.Empty(t, d.Targets)
}

func TestEngine_StopEndsWithNoTargets(t *testing.T) {
	rules := []config.RoutingRule{
		{Name: "stop", Priority: 100, Enabled: true, Condition: "", Action: config.RuleActionStop},
	}
	e := NewEngine("TestProcess")
	d := e.Route(rules, []string{"Default"}, parsedADT(t))
	assert.True(t, d.Stopped)
	assert.Empty(t, d.Targets)
}

func TestEngine_DisabledRuleSkipped(t *testing.T) {
	rules := []config.RoutingRule{
		{Name: "disabled", Priority: 100, Enabled: false, Condition: "", Action: config.RuleActionSend, Targets: []string{"Skipped"}},
	}
	e := NewEngine("TestProcess")
	d := e.Route(rules, []string{"Fallback"}, parsedADT(t))
	require.Len(t, d.Targets, 1)
	assert.Equal(t, "Fallback", d.Targets[0].Target)
}

func TestEngine_NoMatchUsesDefaultTargets(t *testing.T) {
	e := NewEngine("TestProcess")
	d := e.Route(nil, []string{"DefaultA", "DefaultB"}, parsedADT(t))
	require.Len(t, d.Targets, 2)
	assert.Equal(t, "DefaultA", d.Targets[0].Target)
}

func TestEngine_NoMatchNoDefaultYieldsEmptyDecision(t *testing.T) {
	e := NewEngine("TestProcess")
	d := e.Route(nil, nil, parsedADT(t))
	assert.Empty(t, d.Targets)
	assert.False(t, d.Dropped)
	assert.False(t, d.Stopped)
}
