package ruleEngine

// 规则状态
const (
	StateEnable  = "enable"
	StateDisable = "disable"
)

// 表达式规则的分组键
const (
	KeySrc   = "src"
	KeyDst   = "dst"
	KeyPair  = "pair"
	KeyProto = "proto"
)

// Rule 表示一条基于CEL表达式的自定义检测规则
type Rule struct {
	State       string `yaml:"state" json:"state"`             // 规则状态 enable/disable
	RuleID      string `yaml:"rule_id" json:"rule_id"`         // 规则ID
	RuleTag     string `yaml:"rule_tag" json:"rule_tag"`       // 规则标签
	RuleName    string `yaml:"rule_name" json:"rule_name"`     // 规则名称
	Key         string `yaml:"key" json:"key"`                 // 告警去重的分组键 src/dst/pair/proto
	Expression  string `yaml:"expression" json:"expression"`   // 规则表达式，必须返回布尔值
	Description string `yaml:"description" json:"description"` // 规则描述，作为告警文本
}

// Enabled 规则是否启用，未填写状态时默认启用
func (r *Rule) Enabled() bool {
	return r.State == "" || r.State == StateEnable
}

// GroupKey 返回规则的分组键，未配置时按源地址分组
func (r *Rule) GroupKey() string {
	switch r.Key {
	case KeyDst, KeyPair, KeyProto:
		return r.Key
	default:
		return KeySrc
	}
}
