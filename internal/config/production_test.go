package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleProduction() *ProductionConfig {
	return &ProductionConfig{
		Name: "ADTProduction",
		Items: []ItemConfig{
			{Name: "ADTInbound", ItemType: ItemTypeService, Enabled: true, TargetConfigNames: []string{"ADTRouter"}},
			{Name: "ADTRouter", ItemType: ItemTypeProcess, Enabled: true, TargetConfigNames: []string{"LabOutbound"}},
			{Name: "LabOutbound", ItemType: ItemTypeOperation, Enabled: true},
			{Name: "DisabledThing", ItemType: ItemTypeOperation, Enabled: false},
		},
	}
}

func TestProductionConfig_GetItem(t *testing.T) {
	p := sampleProduction()
	item := p.GetItem("ADTRouter")
	assert.NotNil(t, item)
	assert.Equal(t, ItemTypeProcess, item.ItemType)
	assert.Nil(t, p.GetItem("missing"))
}

func TestProductionConfig_ServicesProcessesOperations(t *testing.T) {
	p := sampleProduction()
	assert.Len(t, p.Services(), 1)
	assert.Len(t, p.Processes(), 1)
	assert.Len(t, p.Operations(), 2)
}

func TestProductionConfig_ValidateTargets_Unknown(t *testing.T) {
	p := sampleProduction()
	p.Items[0].TargetConfigNames = append(p.Items[0].TargetConfigNames, "Nonexistent")

	errs := p.ValidateTargets()
	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Nonexistent")
}

func TestProductionConfig_ValidateTargets_Clean(t *testing.T) {
	p := sampleProduction()
	assert.Empty(t, p.ValidateTargets())
}

func TestProductionConfig_DependencyOrder(t *testing.T) {
	p := sampleProduction()
	order := p.DependencyOrder()

	assert.Equal(t, []string{"LabOutbound", "ADTRouter", "ADTInbound"}, order)
}

func TestProductionConfig_DependencyOrder_SkipsDisabled(t *testing.T) {
	p := sampleProduction()
	order := p.DependencyOrder()

	for _, name := range order {
		assert.NotEqual(t, "DisabledThing", name)
	}
}

func TestItemConfig_SettingAccessors(t *testing.T) {
	item := ItemConfig{
		Settings: []ItemSetting{
			{Target: SettingTargetAdapter, Name: "Port", Value: "2575"},
			{Target: SettingTargetAdapter, Name: "KeepAlive", Value: "true"},
			{Target: SettingTargetHost, Name: "TargetConfigNames", Value: "A,B"},
		},
	}

	assert.Equal(t, 2575, item.SettingInt(SettingTargetAdapter, "Port", 0))
	assert.True(t, item.SettingBool(SettingTargetAdapter, "KeepAlive", false))
	assert.Equal(t, "A,B", item.SettingString(SettingTargetHost, "TargetConfigNames", ""))
	assert.Equal(t, 30, item.SettingInt(SettingTargetAdapter, "ReadTimeout", 30))
}

func TestSortRulesByPriority(t *testing.T) {
	rules := []RoutingRule{
		{Name: "low", Priority: 10},
		{Name: "high", Priority: 900},
		{Name: "mid-a", Priority: 500},
		{Name: "mid-b", Priority: 500},
	}

	sorted := SortRulesByPriority(rules)
	names := make([]string, len(sorted))
	for i, r := range sorted {
		names[i] = r.Name
	}
	assert.Equal(t, []string{"high", "mid-a", "mid-b", "low"}, names)
}

func TestValidateReplyCodeActions_AcceptsKnownActions(t *testing.T) {
	p := sampleProduction()
	p.Items[2].Settings = []ItemSetting{
		{Target: SettingTargetHost, Name: "ReplyCodeActions", Value: ":AA=S,:AE=F,?R=R,*=W"},
	}
	assert.Empty(t, p.ValidateReplyCodeActions())
}

func TestValidateReplyCodeActions_RejectsUnknownAction(t *testing.T) {
	p := sampleProduction()
	p.Items[2].Settings = []ItemSetting{
		{Target: SettingTargetHost, Name: "ReplyCodeActions", Value: ":AA=C"},
	}
	errs := p.ValidateReplyCodeActions()
	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0], "LabOutbound")
}

func TestValidateReplyCodeActions_RejectsMalformedEntry(t *testing.T) {
	p := sampleProduction()
	p.Items[2].Settings = []ItemSetting{
		{Target: SettingTargetHost, Name: "ReplyCodeActions", Value: ":AA"},
	}
	errs := p.ValidateReplyCodeActions()
	assert.Len(t, errs, 1)
}

func TestValidateReplyCodeActions_IgnoresNonOperationItems(t *testing.T) {
	p := sampleProduction()
	p.Items[1].Settings = []ItemSetting{
		{Target: SettingTargetHost, Name: "ReplyCodeActions", Value: ":AA=C"},
	}
	assert.Empty(t, p.ValidateReplyCodeActions())
}
