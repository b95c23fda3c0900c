package anomaly

import (
	"fmt"

	"github.com/haolipeng/traffic_visor/pkg/types"
)

// DestinationSpikeRule 检测源地址访问的不同目的地址数量的突增
//
// 只有在目的地址集合增长的那一次处理中才计算增量，
// 基线在每次集合增长时都会更新，而不仅是在告警时更新
type DestinationSpikeRule struct {
	threshold    int
	destinations map[string]map[string]struct{}
	prevCounts   map[string]int
	reported     reportedSet
}

func NewDestinationSpikeRule(threshold int) *DestinationSpikeRule {
	return &DestinationSpikeRule{
		threshold:    threshold,
		destinations: make(map[string]map[string]struct{}),
		prevCounts:   make(map[string]int),
		reported:     make(reportedSet),
	}
}

func (r *DestinationSpikeRule) Name() string {
	return DestinationSpikeRuleName
}

func (r *DestinationSpikeRule) Params() map[string]interface{} {
	return map[string]interface{}{"spike_threshold": r.threshold}
}

func (r *DestinationSpikeRule) Process(rec types.ConnectionRecord) []types.Finding {
	src, dst := rec.Src, rec.Dst
	if src == "" || dst == "" {
		return nil
	}

	dests, ok := r.destinations[src]
	if !ok {
		dests = make(map[string]struct{})
		r.destinations[src] = dests
	}
	if _, seen := dests[dst]; seen {
		return nil
	}
	dests[dst] = struct{}{}

	current := len(dests)
	prev := r.prevCounts[src]
	r.prevCounts[src] = current

	if current-prev > r.threshold && r.reported.markOnce(src) {
		return []types.Finding{{
			Rule:    r.Name(),
			Key:     src,
			Message: fmt.Sprintf("Spike in unique destinations from %s", src),
		}}
	}
	return nil
}
