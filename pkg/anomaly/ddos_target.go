package anomaly

import (
	"fmt"

	"github.com/haolipeng/traffic_visor/pkg/types"
)

// DDoSTargetRule 检测大量不同源地址访问同一目的地址
type DDoSTargetRule struct {
	threshold int
	sources   map[string]map[string]struct{}
	reported  reportedSet
}

func NewDDoSTargetRule(threshold int) *DDoSTargetRule {
	return &DDoSTargetRule{
		threshold: threshold,
		sources:   make(map[string]map[string]struct{}),
		reported:  make(reportedSet),
	}
}

func (r *DDoSTargetRule) Name() string {
	return DDoSTargetRuleName
}

func (r *DDoSTargetRule) Params() map[string]interface{} {
	return map[string]interface{}{"threshold": r.threshold}
}

func (r *DDoSTargetRule) Process(rec types.ConnectionRecord) []types.Finding {
	src, dst := rec.Src, rec.Dst
	if src == "" || dst == "" {
		return nil
	}

	srcs, ok := r.sources[dst]
	if !ok {
		srcs = make(map[string]struct{})
		r.sources[dst] = srcs
	}
	if _, seen := srcs[src]; seen {
		return nil
	}
	srcs[src] = struct{}{}

	if len(srcs) > r.threshold && r.reported.markOnce(dst) {
		return []types.Finding{{
			Rule:    r.Name(),
			Key:     dst,
			Message: fmt.Sprintf("Possible DDoS on %s from %d sources", dst, len(srcs)),
		}}
	}
	return nil
}
