package anomaly

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/haolipeng/traffic_visor/pkg/ruleEngine"
	"github.com/haolipeng/traffic_visor/pkg/types"
	"github.com/sirupsen/logrus"
)

// ExpressionRule 使用CEL表达式描述的自定义规则
// 表达式对每条记录求值，为true时按配置的分组键告警一次
type ExpressionRule struct {
	id          string
	description string
	groupKey    string
	expression  string
	program     cel.Program
	reported    reportedSet
}

// newRecordEnv 创建CEL环境，声明记录中可用的全部字段
func newRecordEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("src", cel.StringType),
		cel.Variable("dst", cel.StringType),
		cel.Variable("src_port", cel.IntType),
		cel.Variable("dst_port", cel.IntType),
		cel.Variable("proto", cel.StringType),
	)
}

// compileExpression 编译并检查表达式，表达式必须返回布尔值
func compileExpression(env *cel.Env, expression string) (cel.Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("%w: 表达式不能为空", types.ErrInvalidExpression)
	}

	// 编译表达式，生成经过类型检查的AST
	ast, iss := env.Compile(expression)
	if iss.Err() != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidExpression, iss.Err())
	}

	if !ast.OutputType().IsAssignableType(cel.BoolType) {
		return nil, fmt.Errorf("%w: 表达式必须返回布尔值，当前返回: %s",
			types.ErrInvalidExpression, ast.OutputType().String())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("create program failed: %w", err)
	}
	return program, nil
}

// ValidateExpression 验证表达式是否有效
func ValidateExpression(expression string) error {
	env, err := newRecordEnv()
	if err != nil {
		return fmt.Errorf("创建CEL环境失败: %w", err)
	}
	_, err = compileExpression(env, expression)
	return err
}

// NewExpressionRule 根据规则定义编译出一条表达式规则
func NewExpressionRule(def *ruleEngine.Rule) (*ExpressionRule, error) {
	if def == nil {
		return nil, fmt.Errorf("rule is nil")
	}

	env, err := newRecordEnv()
	if err != nil {
		return nil, fmt.Errorf("创建CEL环境失败: %w", err)
	}

	program, err := compileExpression(env, def.Expression)
	if err != nil {
		return nil, fmt.Errorf("compile rule %s failed: %w", def.RuleID, err)
	}

	description := def.Description
	if description == "" {
		description = def.RuleID
	}

	return &ExpressionRule{
		id:          def.RuleID,
		description: description,
		groupKey:    def.GroupKey(),
		expression:  def.Expression,
		program:     program,
		reported:    make(reportedSet),
	}, nil
}

func (r *ExpressionRule) Name() string {
	return r.id
}

func (r *ExpressionRule) Params() map[string]interface{} {
	return map[string]interface{}{
		"expression": r.expression,
		"key":        r.groupKey,
	}
}

// keyOf 根据分组键取出记录中的值，所需字段缺失时返回false
func (r *ExpressionRule) keyOf(rec types.ConnectionRecord) (key string, display string, ok bool) {
	switch r.groupKey {
	case ruleEngine.KeyDst:
		return rec.Dst, rec.Dst, rec.Dst != ""
	case ruleEngine.KeyProto:
		return rec.Proto, rec.Proto, rec.Proto != ""
	case ruleEngine.KeyPair:
		if rec.Src == "" || rec.Dst == "" {
			return "", "", false
		}
		return rec.Src + "|" + rec.Dst, rec.Src + " -> " + rec.Dst, true
	default:
		return rec.Src, rec.Src, rec.Src != ""
	}
}

func (r *ExpressionRule) Process(rec types.ConnectionRecord) []types.Finding {
	key, display, ok := r.keyOf(rec)
	if !ok {
		return nil
	}

	vars := map[string]interface{}{
		"src":      rec.Src,
		"dst":      rec.Dst,
		"src_port": int64(rec.SrcPort),
		"dst_port": int64(rec.DstPort),
		"proto":    rec.Proto,
	}

	result, _, err := r.program.Eval(vars)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"rule_id": r.id,
			"error":   err.Error(),
		}).Debug("evaluate expression rule failed")
		return nil
	}

	matched, ok := result.Value().(bool)
	if !ok || !matched {
		return nil
	}

	if !r.reported.markOnce(key) {
		return nil
	}
	return []types.Finding{{
		Rule:    r.id,
		Key:     key,
		Message: fmt.Sprintf("%s (%s)", r.description, display),
	}}
}
