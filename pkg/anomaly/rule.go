package anomaly

import "github.com/haolipeng/traffic_visor/pkg/types"

// 规则名称，同时也是配置文件中使用的键
const (
	HighTrafficRuleName      = "HighTrafficRule"
	DestinationSpikeRuleName = "DestinationSpikeRule"
	PortScanRuleName         = "PortScanRule"
	UnusualProtocolRuleName  = "UnusualProtocolRule"
	DDoSTargetRuleName       = "DDoSTargetRule"
)

// 默认阈值
const (
	DefaultHighTrafficThreshold      = 50
	DefaultDestinationSpikeThreshold = 20
	DefaultPortScanThreshold         = 10
	DefaultDDoSTargetThreshold       = 50
)

// Rule 是一个带有私有运行状态的异常检测单元
// 规则不是并发安全的，只能由一个streaming loop调用
type Rule interface {
	// Name 返回规则名称
	Name() string
	// Process 处理一条记录，返回零条或多条告警
	Process(rec types.ConnectionRecord) []types.Finding
}

// Describer 由可以描述自身参数的规则实现，用于展示规则配置
type Describer interface {
	Params() map[string]interface{}
}

// reportedSet 记录已经告警过的键，保证每个键最多告警一次
type reportedSet map[string]struct{}

// markOnce 如果key未告警过则记录并返回true
func (s reportedSet) markOnce(key string) bool {
	if _, ok := s[key]; ok {
		return false
	}
	s[key] = struct{}{}
	return true
}
