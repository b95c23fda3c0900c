package api

import (
	"fmt"
	"net/http"

	"github.com/haolipeng/traffic_visor/pkg/anomaly"
	"github.com/haolipeng/traffic_visor/pkg/ruleEngine"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// 规则类型
const (
	KindBuiltin    = "builtin"
	KindExpression = "expression"
)

// RuleInfo 对外展示的规则配置
type RuleInfo struct {
	Name        string                 `json:"name"`
	Kind        string                 `json:"kind"`
	State       string                 `json:"state"`
	Tag         string                 `json:"tag,omitempty"`
	Description string                 `json:"description,omitempty"`
	Params      map[string]interface{} `json:"params,omitempty"`
}

// RuleService 规则服务，提供当前生效的检测规则
type RuleService struct {
	anomalyCfg map[string]interface{}
	ruleLoader *ruleEngine.RuleLoader
}

// NewRuleService 创建规则服务，ruleDir为空时不加载表达式规则
func NewRuleService(anomalyCfg map[string]interface{}, ruleDir string) *RuleService {
	loader := ruleEngine.NewRuleLoader()
	if ruleDir != "" {
		if err := loader.LoadRulesFromDirectory(ruleDir); err != nil {
			logrus.WithFields(logrus.Fields{
				"rule_directory": ruleDir,
				"error":          err.Error(),
			}).Error("load rule directory failed")
		}
	}

	return &RuleService{
		anomalyCfg: anomalyCfg,
		ruleLoader: loader,
	}
}

// NewDetector 根据配置构建一个新的检测器，每个会话各自持有一个
func (rs *RuleService) NewDetector() *anomaly.Detector {
	return anomaly.BuildDetectorWithExpressions(rs.anomalyCfg, rs.ruleLoader.SortedRules())
}

// ListRules 返回生效的内置规则和全部表达式规则（包括禁用的）
func (rs *RuleService) ListRules() []RuleInfo {
	var infos []RuleInfo
	for _, rule := range anomaly.BuildDetector(rs.anomalyCfg).Rules() {
		info := RuleInfo{
			Name:  rule.Name(),
			Kind:  KindBuiltin,
			State: ruleEngine.StateEnable,
		}
		if d, ok := rule.(anomaly.Describer); ok {
			info.Params = d.Params()
		}
		infos = append(infos, info)
	}

	for _, def := range rs.ruleLoader.SortedRules() {
		state := ruleEngine.StateEnable
		if !def.Enabled() {
			state = ruleEngine.StateDisable
		}
		infos = append(infos, RuleInfo{
			Name:        def.RuleID,
			Kind:        KindExpression,
			State:       state,
			Tag:         def.RuleTag,
			Description: def.Description,
			Params: map[string]interface{}{
				"expression": def.Expression,
				"key":        def.GroupKey(),
			},
		})
	}
	return infos
}

// GetRuleConfigs 获取所有规则配置，支持按kind/state/tag过滤
func (rs *RuleService) GetRuleConfigs(c echo.Context) error {
	kind := c.QueryParam("kind")
	state := c.QueryParam("state")
	tag := c.QueryParam("tag")

	all := rs.ListRules()
	filtered := make([]RuleInfo, 0, len(all))
	for _, info := range all {
		if kind != "" && info.Kind != kind {
			continue
		}
		if state != "" && info.State != state {
			continue
		}
		if tag != "" && info.Tag != tag {
			continue
		}
		filtered = append(filtered, info)
	}

	logrus.WithFields(logrus.Fields{
		"total_rules":    len(all),
		"filtered_rules": len(filtered),
	}).Debug("list rules")

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "获取规则配置成功",
		Data:    filtered,
	})
}

// GetRuleConfig 获取指定规则配置
func (rs *RuleService) GetRuleConfig(c echo.Context) error {
	name := c.Param("rule_id")
	for _, info := range rs.ListRules() {
		if info.Name == name {
			return c.JSON(http.StatusOK, Response{
				Code:    http.StatusOK,
				Message: "获取规则配置成功",
				Data:    info,
			})
		}
	}
	return HandleError(c, NewRuleNotFoundError(name))
}

// ValidateRule 验证表达式规则是否有效
func (rs *RuleService) ValidateRule(c echo.Context) error {
	var rule ruleEngine.Rule
	if err := c.Bind(&rule); err != nil {
		return HandleError(c, NewInvalidRequestError(err))
	}
	if rule.RuleID == "" {
		return HandleError(c, NewRuleValidationError(fmt.Errorf("rule_id is required")))
	}
	if err := anomaly.ValidateExpression(rule.Expression); err != nil {
		return HandleError(c, NewRuleValidationError(err))
	}

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "规则验证通过",
		Data:    rule,
	})
}
