package anomaly

import "github.com/haolipeng/traffic_visor/pkg/types"

// DefaultRules 返回使用默认阈值的全部内置规则
func DefaultRules() []Rule {
	return []Rule{
		NewHighTrafficRule(DefaultHighTrafficThreshold),
		NewDestinationSpikeRule(DefaultDestinationSpikeThreshold),
		NewPortScanRule(DefaultPortScanThreshold),
		NewUnusualProtocolRule(nil),
		NewDDoSTargetRule(DefaultDDoSTargetThreshold),
	}
}

// Detector 按顺序把每条记录分发给所有规则并汇总告警
// 与规则一样，Detector只能由一个goroutine使用
type Detector struct {
	rules []Rule
}

// NewDetector 创建检测器，未提供规则时使用默认规则集
func NewDetector(rules ...Rule) *Detector {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Detector{rules: rules}
}

// AddRule 追加一条规则，新规则从空状态开始，不会回看之前的记录
func (d *Detector) AddRule(rule Rule) {
	if rule == nil {
		return
	}
	d.rules = append(d.rules, rule)
}

// Rules 返回规则列表的副本
func (d *Detector) Rules() []Rule {
	out := make([]Rule, len(d.rules))
	copy(out, d.rules)
	return out
}

// Process 依次调用每条规则并按规则顺序拼接告警
func (d *Detector) Process(rec types.ConnectionRecord) []types.Finding {
	var findings []types.Finding
	for _, rule := range d.rules {
		findings = append(findings, rule.Process(rec)...)
	}
	return findings
}
