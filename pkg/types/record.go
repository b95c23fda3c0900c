package types

import "strings"

// ConnectionRecord 表示一个被观测到的数据包的连接投影
// 端口为0表示该字段缺失，Proto为空表示协议未知
type ConnectionRecord struct {
	Src     string `json:"src"`
	Dst     string `json:"dst,omitempty"`
	SrcPort uint16 `json:"src_port,omitempty"`
	DstPort uint16 `json:"dst_port,omitempty"`
	Proto   string `json:"proto,omitempty"`
}

// Valid 判断记录是否带有可用的源地址
func (r ConnectionRecord) Valid() bool {
	return strings.TrimSpace(r.Src) != ""
}

// Finding 表示一条异常告警
type Finding struct {
	Rule    string `json:"rule"`    // 产生告警的规则名称
	Key     string `json:"key"`     // 规则状态的分组键
	Message string `json:"message"` // 可读的告警描述
}

func (f Finding) String() string {
	return f.Message
}

// FindingMessages 将告警列表转换为纯文本列表
func FindingMessages(findings []Finding) []string {
	messages := make([]string, 0, len(findings))
	for _, f := range findings {
		messages = append(messages, f.Message)
	}
	return messages
}
