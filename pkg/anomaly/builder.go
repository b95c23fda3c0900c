package anomaly

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/haolipeng/traffic_visor/pkg/ruleEngine"
	"github.com/sirupsen/logrus"
)

// ruleNameAliases 兼容旧配置中的规则名称
var ruleNameAliases = map[string]string{
	"DDosTargetRule": DDoSTargetRuleName,
}

// canonicalOrder 内置规则的实例化顺序，与配置中map的遍历顺序无关
var canonicalOrder = []string{
	HighTrafficRuleName,
	DestinationSpikeRuleName,
	PortScanRuleName,
	UnusualProtocolRuleName,
	DDoSTargetRuleName,
}

// BuildDetector 根据配置创建检测器
//
// 配置格式为 {"rules": {规则名: false | {threshold, spike_threshold, allowed, enabled}}}。
// 未知的规则名被忽略，显式禁用的规则被跳过，参数格式错误的条目被忽略，
// 最终规则列表为空时退回默认规则集。
func BuildDetector(cfg map[string]interface{}) *Detector {
	return NewDetector(buildRules(cfg)...)
}

// BuildDetectorWithExpressions 在内置规则之后追加已启用的表达式规则
// 编译失败的表达式规则会被跳过
func BuildDetectorWithExpressions(cfg map[string]interface{}, defs []*ruleEngine.Rule) *Detector {
	detector := BuildDetector(cfg)
	for _, def := range defs {
		if def == nil || !def.Enabled() {
			continue
		}
		rule, err := NewExpressionRule(def)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"rule_id": def.RuleID,
				"error":   err.Error(),
			}).Warn("skip invalid expression rule")
			continue
		}
		detector.AddRule(rule)
	}
	return detector
}

func buildRules(cfg map[string]interface{}) []Rule {
	if len(cfg) == 0 {
		return nil
	}

	rulesCfg, ok := cfg["rules"].(map[string]interface{})
	if !ok {
		if cfg["rules"] != nil {
			logrus.Warnf("anomaly config: rules must be a mapping, got %T", cfg["rules"])
		}
		return nil
	}

	// 统一规则名称
	entries := make(map[string]interface{}, len(rulesCfg))
	for name, ruleCfg := range rulesCfg {
		if alias, ok := ruleNameAliases[name]; ok {
			name = alias
		}
		entries[name] = ruleCfg
	}

	var rules []Rule
	for _, name := range canonicalOrder {
		ruleCfg, ok := entries[name]
		if !ok {
			continue
		}
		rule, err := buildRule(name, ruleCfg)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"rule":  name,
				"error": err.Error(),
			}).Warn("ignore malformed anomaly rule config")
			continue
		}
		if rule != nil {
			rules = append(rules, rule)
		}
	}
	return rules
}

// buildRule 返回nil, nil表示规则被禁用
func buildRule(name string, raw interface{}) (Rule, error) {
	var params map[string]interface{}
	switch v := raw.(type) {
	case nil:
		params = map[string]interface{}{}
	case bool:
		if !v {
			return nil, nil
		}
		params = map[string]interface{}{}
	case map[string]interface{}:
		params = v
	default:
		return nil, fmt.Errorf("unsupported rule config type %T", raw)
	}

	if enabled, ok := params["enabled"]; ok {
		on, isBool := enabled.(bool)
		if !isBool {
			return nil, fmt.Errorf("enabled must be a boolean, got %T", enabled)
		}
		if !on {
			return nil, nil
		}
	}

	switch name {
	case HighTrafficRuleName:
		threshold, err := intParam(params, "threshold", DefaultHighTrafficThreshold)
		if err != nil {
			return nil, err
		}
		return NewHighTrafficRule(threshold), nil
	case DestinationSpikeRuleName:
		threshold, err := intParam(params, "spike_threshold", DefaultDestinationSpikeThreshold)
		if err != nil {
			return nil, err
		}
		return NewDestinationSpikeRule(threshold), nil
	case PortScanRuleName:
		threshold, err := intParam(params, "threshold", DefaultPortScanThreshold)
		if err != nil {
			return nil, err
		}
		return NewPortScanRule(threshold), nil
	case UnusualProtocolRuleName:
		allowed, err := stringListParam(params, "allowed")
		if err != nil {
			return nil, err
		}
		return NewUnusualProtocolRule(allowed), nil
	case DDoSTargetRuleName:
		threshold, err := intParam(params, "threshold", DefaultDDoSTargetThreshold)
		if err != nil {
			return nil, err
		}
		return NewDDoSTargetRule(threshold), nil
	}
	return nil, nil
}

// intParam 读取非负整数参数，兼容YAML/JSON解码出的各种数值类型
func intParam(params map[string]interface{}, key string, def int) (int, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}

	var n int
	switch v := raw.(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case uint64:
		if v > math.MaxInt32 {
			return 0, fmt.Errorf("%s out of range: %d", key, v)
		}
		n = int(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v > math.MaxInt32 {
			return 0, fmt.Errorf("%s out of range: %v", key, v)
		}
		n = int(v)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%s is not a number: %q", key, v)
		}
		n = parsed
	default:
		return 0, fmt.Errorf("%s has unsupported type %T", key, raw)
	}

	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative: %d", key, n)
	}
	return n, nil
}

// stringListParam 读取协议列表，数字元素转换为字符串
// 参数不存在时返回nil，表示使用默认值
func stringListParam(params map[string]interface{}, key string) ([]string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, nil
	}

	var items []interface{}
	switch v := raw.(type) {
	case []interface{}:
		items = v
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a list, got %T", key, raw)
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case int, int64, uint64:
			out = append(out, fmt.Sprint(v))
		case float64:
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		default:
			return nil, fmt.Errorf("%s contains unsupported element %T", key, item)
		}
	}
	return out, nil
}
