package anomaly

import (
	"fmt"
	"sort"
	"strings"

	"github.com/haolipeng/traffic_visor/pkg/types"
)

// DefaultAllowedProtocols 默认允许的协议，包含名称和IP协议号两种写法
var DefaultAllowedProtocols = []string{"TCP", "UDP", "ICMP", "6", "17", "1"}

// UnusualProtocolRule 对不在允许列表中的协议告警，按协议值去重
type UnusualProtocolRule struct {
	allowed  map[string]struct{}
	reported reportedSet
}

func NewUnusualProtocolRule(allowed []string) *UnusualProtocolRule {
	if allowed == nil {
		allowed = DefaultAllowedProtocols
	}
	set := make(map[string]struct{}, len(allowed))
	for _, p := range allowed {
		set[strings.TrimSpace(p)] = struct{}{}
	}
	return &UnusualProtocolRule{
		allowed:  set,
		reported: make(reportedSet),
	}
}

func (r *UnusualProtocolRule) Name() string {
	return UnusualProtocolRuleName
}

func (r *UnusualProtocolRule) Params() map[string]interface{} {
	allowed := make([]string, 0, len(r.allowed))
	for p := range r.allowed {
		allowed = append(allowed, p)
	}
	sort.Strings(allowed)
	return map[string]interface{}{"allowed": allowed}
}

func (r *UnusualProtocolRule) Process(rec types.ConnectionRecord) []types.Finding {
	proto := rec.Proto
	if proto == "" {
		return nil
	}
	if _, ok := r.allowed[proto]; ok {
		return nil
	}
	if !r.reported.markOnce(proto) {
		return nil
	}
	return []types.Finding{{
		Rule:    r.Name(),
		Key:     proto,
		Message: fmt.Sprintf("Unusual protocol %s from %s to %s", proto, rec.Src, rec.Dst),
	}}
}
