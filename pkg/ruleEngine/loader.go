package ruleEngine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v2"
)

// RuleLoader 负责加载和管理规则
type RuleLoader struct {
	rules map[string]*Rule // 使用map存储规则，key为规则ID
}

// NewRuleLoader 创建一个新的规则加载器
func NewRuleLoader() *RuleLoader {
	return &RuleLoader{
		rules: make(map[string]*Rule),
	}
}

// ruleFile 规则文件既可以是单条规则，也可以是rules列表
type ruleFile struct {
	Rule  `yaml:",inline"`
	Rules []*Rule `yaml:"rules"`
}

// LoadRuleFromFile 从文件加载规则
func (rl *RuleLoader) LoadRuleFromFile(filePath string) error {
	// 读取文件内容
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("读取规则文件失败: %w", err)
	}

	return rl.LoadRuleFromBytes(data)
}

// LoadRuleFromBytes 解析YAML或JSON格式的规则内容
func (rl *RuleLoader) LoadRuleFromBytes(data []byte) error {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("解析YAML失败: %w", err)
	}

	rules := file.Rules
	if file.RuleID != "" {
		single := file.Rule
		rules = append(rules, &single)
	}

	for _, rule := range rules {
		if rule == nil {
			continue
		}
		if rule.RuleID == "" {
			return fmt.Errorf("规则缺少rule_id")
		}
		// 存储规则
		rl.rules[rule.RuleID] = rule
	}
	return nil
}

// LoadRulesFromDirectory 从目录加载所有规则
func (rl *RuleLoader) LoadRulesFromDirectory(dirPath string) error {
	files, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("读取目录失败: %w", err)
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}
		switch filepath.Ext(file.Name()) {
		case ".yaml", ".yml", ".json":
			fullPath := filepath.Join(dirPath, file.Name())
			if err := rl.LoadRuleFromFile(fullPath); err != nil {
				return fmt.Errorf("加载规则文件 %s 失败: %w", file.Name(), err)
			}
		}
	}
	return nil
}

// GetRule 根据规则ID获取规则
func (rl *RuleLoader) GetRule(ruleID string) (*Rule, bool) {
	rule, exists := rl.rules[ruleID]
	return rule, exists
}

// GetAllRules 获取所有规则
func (rl *RuleLoader) GetAllRules() map[string]*Rule {
	return rl.rules
}

// SortedRules 按规则ID排序返回全部规则
func (rl *RuleLoader) SortedRules() []*Rule {
	ids := make([]string, 0, len(rl.rules))
	for id := range rl.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rules := make([]*Rule, 0, len(ids))
	for _, id := range ids {
		rules = append(rules, rl.rules[id])
	}
	return rules
}
