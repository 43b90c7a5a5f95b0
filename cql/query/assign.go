package query

import (
	"fmt"

	"github.com/hatlonely/cqlx/cql"
)

// AssignOp 更新操作
type AssignOp string

const (
	AssignSet     AssignOp = "set"
	AssignAdd     AssignOp = "add"     // 集合追加 / map 合并
	AssignPrepend AssignOp = "prepend" // 仅 list
	AssignRemove  AssignOp = "remove"  // 集合删除元素 / map 删除键
	AssignSetKey  AssignOp = "set-key" // map 键或 list 下标赋值
)

// Assignment UPDATE 语句中的单列赋值
type Assignment struct {
	Column string
	Op     AssignOp
	Key    any
	Value  any
}

func Set(column string, value any) Assignment {
	return Assignment{Column: column, Op: AssignSet, Value: value}
}

func Add(column string, value any) Assignment {
	return Assignment{Column: column, Op: AssignAdd, Value: value}
}

func Prepend(column string, value any) Assignment {
	return Assignment{Column: column, Op: AssignPrepend, Value: value}
}

// Remove map 列传入需要删除的键集合
func Remove(column string, value any) Assignment {
	return Assignment{Column: column, Op: AssignRemove, Value: value}
}

func SetKey(column string, key any, value any) Assignment {
	return Assignment{Column: column, Op: AssignSetKey, Key: key, Value: value}
}

// CQL 渲染赋值表达式及其绑定值
func (a Assignment) CQL() (string, []any, error) {
	c := cql.Quote(a.Column)
	switch a.Op {
	case AssignSet:
		return c + " = ?", []any{a.Value}, nil
	case AssignAdd:
		return fmt.Sprintf("%s = %s + ?", c, c), []any{a.Value}, nil
	case AssignPrepend:
		return fmt.Sprintf("%s = ? + %s", c, c), []any{a.Value}, nil
	case AssignRemove:
		return fmt.Sprintf("%s = %s - ?", c, c), []any{a.Value}, nil
	case AssignSetKey:
		return c + "[?] = ?", []any{a.Key, a.Value}, nil
	}
	return "", nil, &cql.UnsupportedQueryError{Column: a.Column, Rule: cql.RuleAssignment, Detail: fmt.Sprintf("unknown assignment %q", a.Op)}
}

// Order 排序
type Order struct {
	Column string
	Desc   bool
}

func Asc(column string) Order {
	return Order{Column: column}
}

func Desc(column string) Order {
	return Order{Column: column, Desc: true}
}

func (o Order) CQL() string {
	if o.Desc {
		return cql.Quote(o.Column) + " DESC"
	}
	return cql.Quote(o.Column) + " ASC"
}
