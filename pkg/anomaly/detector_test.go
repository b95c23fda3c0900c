package anomaly

import (
	"testing"

	"github.com/haolipeng/traffic_visor/pkg/ruleEngine"
	"github.com/haolipeng/traffic_visor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ruleNames(d *Detector) []string {
	var names []string
	for _, r := range d.Rules() {
		names = append(names, r.Name())
	}
	return names
}

func TestNewDetectorDefaults(t *testing.T) {
	d := NewDetector()
	assert.Equal(t, canonicalOrder, ruleNames(d))
}

func TestDetectorConcatenatesInRuleOrder(t *testing.T) {
	d := NewDetector(NewUnusualProtocolRule(nil), NewHighTrafficRule(0))

	findings := d.Process(types.ConnectionRecord{Src: "1.1.1.1", Dst: "2.2.2.2", Proto: "GRE"})
	require.Len(t, findings, 2)
	assert.Equal(t, UnusualProtocolRuleName, findings[0].Rule)
	assert.Equal(t, HighTrafficRuleName, findings[1].Rule)
}

func TestDetectorAddRuleStartsEmpty(t *testing.T) {
	d := NewDetector(NewHighTrafficRule(1))
	rec := types.ConnectionRecord{Src: "a"}
	d.Process(rec)
	d.Process(rec)

	d.AddRule(NewDDoSTargetRule(0))
	d.AddRule(nil)
	assert.Len(t, d.Rules(), 2)

	// 新规则只看到加入之后的记录
	findings := d.Process(types.ConnectionRecord{Src: "a", Dst: "b"})
	require.Len(t, findings, 1)
	assert.Equal(t, "Possible DDoS on b from 1 sources", findings[0].Message)
}

func TestBuildDetectorFromConfig(t *testing.T) {
	cfg := map[string]interface{}{
		"rules": map[string]interface{}{
			"HighTrafficRule": map[string]interface{}{"threshold": 2},
			"PortScanRule":    false,
		},
	}
	d := BuildDetector(cfg)
	assert.Equal(t, []string{HighTrafficRuleName}, ruleNames(d))

	rec := types.ConnectionRecord{Src: "1.1.1.1"}
	assert.Empty(t, d.Process(rec))
	assert.Empty(t, d.Process(rec))
	findings := d.Process(rec)
	require.Len(t, findings, 1)
	assert.Equal(t, "High traffic from 1.1.1.1", findings[0].Message)
}

func TestBuildDetectorVariants(t *testing.T) {
	testCases := []struct {
		name string
		cfg  map[string]interface{}
		want []string
	}{
		{
			name: "空配置使用默认规则",
			cfg:  nil,
			want: canonicalOrder,
		},
		{
			name: "全部禁用时退回默认规则",
			cfg: map[string]interface{}{"rules": map[string]interface{}{
				"HighTrafficRule": false,
				"PortScanRule":    map[string]interface{}{"enabled": false},
			}},
			want: canonicalOrder,
		},
		{
			name: "未知规则名被忽略",
			cfg: map[string]interface{}{"rules": map[string]interface{}{
				"NoSuchRule":   map[string]interface{}{"threshold": 1},
				"PortScanRule": map[string]interface{}{},
			}},
			want: []string{PortScanRuleName},
		},
		{
			name: "旧规则名别名",
			cfg: map[string]interface{}{"rules": map[string]interface{}{
				"DDosTargetRule": map[string]interface{}{"threshold": 3},
			}},
			want: []string{DDoSTargetRuleName},
		},
		{
			name: "格式错误的条目被忽略",
			cfg: map[string]interface{}{"rules": map[string]interface{}{
				"HighTrafficRule":      map[string]interface{}{"threshold": "abc"},
				"PortScanRule":         "yes",
				"DDoSTargetRule":       map[string]interface{}{"threshold": -1},
				"DestinationSpikeRule": map[string]interface{}{"spike_threshold": 5.0},
			}},
			want: []string{DestinationSpikeRuleName},
		},
		{
			name: "按固定顺序实例化",
			cfg: map[string]interface{}{"rules": map[string]interface{}{
				"DDoSTargetRule":      true,
				"UnusualProtocolRule": nil,
				"HighTrafficRule":     map[string]interface{}{"enabled": true},
			}},
			want: []string{HighTrafficRuleName, UnusualProtocolRuleName, DDoSTargetRuleName},
		},
		{
			name: "rules不是映射",
			cfg:  map[string]interface{}{"rules": []interface{}{"HighTrafficRule"}},
			want: canonicalOrder,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ruleNames(BuildDetector(tc.cfg)))
		})
	}
}

func TestBuildDetectorRuleParams(t *testing.T) {
	d := BuildDetector(map[string]interface{}{"rules": map[string]interface{}{
		"HighTrafficRule":      map[string]interface{}{"threshold": int64(7)},
		"DestinationSpikeRule": map[string]interface{}{"spike_threshold": float64(3)},
		"PortScanRule":         map[string]interface{}{"threshold": "4"},
		"UnusualProtocolRule":  map[string]interface{}{"allowed": []interface{}{"TCP", 47, 2.0}},
	}})

	rules := d.Rules()
	require.Len(t, rules, 4)
	assert.Equal(t, 7, rules[0].(*HighTrafficRule).threshold)
	assert.Equal(t, 3, rules[1].(*DestinationSpikeRule).threshold)
	assert.Equal(t, 4, rules[2].(*PortScanRule).threshold)
	assert.Equal(t, []string{"2", "47", "TCP"}, rules[3].(Describer).Params()["allowed"])

	unusual := rules[3]
	assert.Empty(t, unusual.Process(types.ConnectionRecord{Src: "s", Proto: "47"}))
	assert.Len(t, unusual.Process(types.ConnectionRecord{Src: "s", Proto: "UDP"}), 1)
}

func TestBuildDetectorWithExpressions(t *testing.T) {
	defs := []*ruleEngine.Rule{
		{RuleID: "gre", Expression: `proto == "GRE"`, Description: "GRE tunnel", Key: ruleEngine.KeyPair},
		{RuleID: "off", State: ruleEngine.StateDisable, Expression: "true"},
		{RuleID: "broken", Expression: "src +"},
		{RuleID: "not_bool", Expression: "dst_port + 1"},
	}
	d := BuildDetectorWithExpressions(map[string]interface{}{"rules": map[string]interface{}{
		"HighTrafficRule": map[string]interface{}{"threshold": 100},
	}}, defs)
	assert.Equal(t, []string{HighTrafficRuleName, "gre"}, ruleNames(d))

	findings := d.Process(types.ConnectionRecord{Src: "1.1.1.1", Dst: "2.2.2.2", Proto: "GRE"})
	require.Len(t, findings, 1)
	assert.Equal(t, "GRE tunnel (1.1.1.1 -> 2.2.2.2)", findings[0].Message)
	assert.Empty(t, d.Process(types.ConnectionRecord{Src: "1.1.1.1", Dst: "2.2.2.2", Proto: "GRE"}))
}
