package anomaly

import (
	"fmt"

	"github.com/haolipeng/traffic_visor/pkg/types"
)

// PortScanRule 统计同一(src, dst)对上出现的不同目的端口数
type PortScanRule struct {
	threshold int
	tracker   map[string]map[string]map[uint16]struct{} // src -> dst -> 端口集合
	reported  reportedSet
}

func NewPortScanRule(threshold int) *PortScanRule {
	return &PortScanRule{
		threshold: threshold,
		tracker:   make(map[string]map[string]map[uint16]struct{}),
		reported:  make(reportedSet),
	}
}

func (r *PortScanRule) Name() string {
	return PortScanRuleName
}

func (r *PortScanRule) Params() map[string]interface{} {
	return map[string]interface{}{"threshold": r.threshold}
}

func (r *PortScanRule) Process(rec types.ConnectionRecord) []types.Finding {
	src, dst, port := rec.Src, rec.Dst, rec.DstPort
	if src == "" || dst == "" || port == 0 {
		return nil
	}

	dsts, ok := r.tracker[src]
	if !ok {
		dsts = make(map[string]map[uint16]struct{})
		r.tracker[src] = dsts
	}
	ports, ok := dsts[dst]
	if !ok {
		ports = make(map[uint16]struct{})
		dsts[dst] = ports
	}
	ports[port] = struct{}{}

	// 源和目的地址中不会出现"|"，可以安全地拼接成组合键
	key := src + "|" + dst
	if len(ports) > r.threshold && r.reported.markOnce(key) {
		return []types.Finding{{
			Rule:    r.Name(),
			Key:     key,
			Message: fmt.Sprintf("Port scan from %s to %s", src, dst),
		}}
	}
	return nil
}
