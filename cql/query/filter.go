package query

import (
	"fmt"
	"strings"

	"github.com/hatlonely/cqlx/cql"
)

// Operator 比较符
type Operator string

const (
	OpEq          Operator = "="
	OpNe          Operator = "!="
	OpLt          Operator = "<"
	OpLe          Operator = "<="
	OpGt          Operator = ">"
	OpGe          Operator = ">="
	OpIn          Operator = "IN"
	OpContains    Operator = "CONTAINS"
	OpContainsKey Operator = "CONTAINS KEY"
)

func (o Operator) Valid() bool {
	switch o {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpIn, OpContains, OpContainsKey:
		return true
	}
	return false
}

// IsRange 是否为范围比较
func (o Operator) IsRange() bool {
	switch o {
	case OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// IsEquality 是否为等值限定 (= 或 IN)，分区键只接受等值限定
func (o Operator) IsEquality() bool {
	return o == OpEq || o == OpIn
}

// Filter 单列过滤条件，多个条件之间为 AND 关系
type Filter struct {
	Column string
	Op     Operator
	Values []any
}

func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: OpEq, Values: []any{value}}
}

func Ne(column string, value any) Filter {
	return Filter{Column: column, Op: OpNe, Values: []any{value}}
}

func Lt(column string, value any) Filter {
	return Filter{Column: column, Op: OpLt, Values: []any{value}}
}

func Le(column string, value any) Filter {
	return Filter{Column: column, Op: OpLe, Values: []any{value}}
}

func Gt(column string, value any) Filter {
	return Filter{Column: column, Op: OpGt, Values: []any{value}}
}

func Ge(column string, value any) Filter {
	return Filter{Column: column, Op: OpGe, Values: []any{value}}
}

func In(column string, values ...any) Filter {
	return Filter{Column: column, Op: OpIn, Values: values}
}

// Contains 集合列包含元素，map 列匹配值
func Contains(column string, value any) Filter {
	return Filter{Column: column, Op: OpContains, Values: []any{value}}
}

// ContainsKey map 列包含键
func ContainsKey(column string, value any) Filter {
	return Filter{Column: column, Op: OpContainsKey, Values: []any{value}}
}

// Value 返回单值比较的操作数
func (f Filter) Value() any {
	if len(f.Values) == 0 {
		return nil
	}
	return f.Values[0]
}

// Validate 检查比较符和操作数个数
// IN 至少一个值，其余比较符恰好一个值
func (f Filter) Validate() error {
	if !f.Op.Valid() {
		return &cql.UnsupportedQueryError{Column: f.Column, Rule: cql.RuleOperatorColumn, Detail: fmt.Sprintf("unknown operator %q", f.Op)}
	}
	if f.Op == OpIn {
		if len(f.Values) == 0 {
			return &cql.UnsupportedQueryError{Column: f.Column, Rule: cql.RuleOperatorArity, Detail: "IN requires at least one value"}
		}
		return nil
	}
	if len(f.Values) != 1 {
		return &cql.UnsupportedQueryError{Column: f.Column, Rule: cql.RuleOperatorArity, Detail: fmt.Sprintf("%s requires exactly one value, got %d", f.Op, len(f.Values))}
	}
	return nil
}

// CQL 渲染条件表达式，操作数以占位符表示
func (f Filter) CQL() string {
	if f.Op == OpIn {
		return fmt.Sprintf("%s IN (%s)", cql.Quote(f.Column), Placeholders(len(f.Values)))
	}
	return fmt.Sprintf("%s %s ?", cql.Quote(f.Column), f.Op)
}

func (f Filter) String() string {
	if f.Op == OpIn {
		parts := make([]string, 0, len(f.Values))
		for _, v := range f.Values {
			parts = append(parts, fmt.Sprintf("%v", v))
		}
		return fmt.Sprintf("%s IN (%s)", f.Column, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s %s %v", f.Column, f.Op, f.Value())
}

// Placeholders 返回 n 个以逗号分隔的占位符
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
