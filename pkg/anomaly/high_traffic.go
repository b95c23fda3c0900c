package anomaly

import (
	"fmt"

	"github.com/haolipeng/traffic_visor/pkg/types"
)

// HighTrafficRule 统计每个源地址的数据包数量，超过阈值时告警
type HighTrafficRule struct {
	threshold int
	counts    map[string]int
	reported  reportedSet
}

func NewHighTrafficRule(threshold int) *HighTrafficRule {
	return &HighTrafficRule{
		threshold: threshold,
		counts:    make(map[string]int),
		reported:  make(reportedSet),
	}
}

func (r *HighTrafficRule) Name() string {
	return HighTrafficRuleName
}

func (r *HighTrafficRule) Params() map[string]interface{} {
	return map[string]interface{}{"threshold": r.threshold}
}

func (r *HighTrafficRule) Process(rec types.ConnectionRecord) []types.Finding {
	src := rec.Src
	if src == "" {
		return nil
	}

	r.counts[src]++
	if r.counts[src] > r.threshold && r.reported.markOnce(src) {
		return []types.Finding{{
			Rule:    r.Name(),
			Key:     src,
			Message: fmt.Sprintf("High traffic from %s", src),
		}}
	}
	return nil
}
