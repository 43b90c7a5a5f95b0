package cql

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("record not found")
	// 条件写入（IF / IF EXISTS / IF NOT EXISTS）未生效
	ErrNotApplied = errors.New("conditional write not applied")
)

// 校验规则名称，出现在错误信息里，便于定位被违反的约束
const (
	RuleTableName            = "table-name"
	RuleNoColumns            = "no-columns"
	RuleColumnName           = "column-name"
	RuleDuplicateColumn      = "duplicate-column"
	RulePartitionKeyRequired = "partition-key-required"
	RuleUnknownKeyColumn     = "unknown-key-column"
	RuleDuplicateKeyColumn   = "duplicate-key-column"
	RuleKeyOverlap           = "key-overlap"
	RuleCollectionKey        = "collection-key"
	RuleStaticColumn         = "static-column"
	RuleUnknownIndexColumn   = "unknown-index-column"
	RuleSolePartitionIndex   = "index-on-sole-partition-key"
	RuleCollectionIndex      = "collection-index"
	RuleDuplicateIndex       = "duplicate-index"
	RuleDefaultType          = "default-type"
	RuleUserType             = "user-type"
	RuleColumnType           = "column-type"
	RuleClusteringOrder      = "clustering-order"
	RuleTableOption          = "table-option"

	RuleUnknownColumn     = "unknown-column"
	RuleOperatorArity     = "operator-arity"
	RuleOperatorColumn    = "operator-column"
	RuleMultipleRelations = "multiple-relations"
	RuleWhereNotEqual     = "not-equal-in-where"
	RuleOrderBy           = "order-by"
	RuleGroupBy           = "group-by"
	RuleDistinct          = "distinct"
	RuleProjection        = "projection"
	RuleLimit             = "limit"
	RuleAssignment        = "assignment"
	RuleKeyAssignment     = "key-assignment"
	RuleWriteFilter       = "write-filter"
	RuleNoAssignments     = "no-assignments"
	RuleConditions        = "conditions"
	RuleWriteOption       = "write-option"

	RuleBatchEmpty     = "batch-empty"
	RuleBatchStatement = "batch-statement"
	RuleBatchTable     = "batch-table"
	RuleBatchPartition = "batch-partition"
)

// CoercionError 值与列类型不匹配
type CoercionError struct {
	Table    string
	Column   string
	Path     string // 嵌套路径，如 address.city 或 tags[2]
	Expected string
	Actual   string
	Reason   string
}

func (e *CoercionError) Error() string {
	var b strings.Builder
	b.WriteString("cannot coerce value")
	if target := qualified(e.Table, e.Column); target != "" {
		b.WriteString(" for column ")
		b.WriteString(target)
	}
	if e.Path != "" {
		b.WriteString(" at ")
		b.WriteString(e.Path)
	}
	fmt.Fprintf(&b, ": expected %s, got %s", e.Expected, e.Actual)
	if e.Reason != "" {
		b.WriteString(" (")
		b.WriteString(e.Reason)
		b.WriteString(")")
	}
	return b.String()
}

// MissingRequiredFieldError 必填列缺失且没有默认值
type MissingRequiredFieldError struct {
	Table  string
	Column string
}

func (e *MissingRequiredFieldError) Error() string {
	return fmt.Sprintf("missing required column %s", qualified(e.Table, e.Column))
}

// SchemaDefinitionError 模型声明不合法
type SchemaDefinitionError struct {
	Table  string
	Column string
	Rule   string
	Detail string
}

func (e *SchemaDefinitionError) Error() string {
	return ruleMessage("invalid schema", e.Table, e.Column, e.Rule, e.Detail)
}

// IncompleteKeyError 写操作没有给出足够的主键
type IncompleteKeyError struct {
	Table     string
	Column    string
	Operation string
	Detail    string
}

func (e *IncompleteKeyError) Error() string {
	msg := fmt.Sprintf("incomplete primary key for %s on %s: missing equality restriction on %s",
		strings.ToLower(e.Operation), e.Table, e.Column)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// UnsupportedQueryError 存储不支持的查询形态
type UnsupportedQueryError struct {
	Table  string
	Column string
	Rule   string
	Detail string
}

func (e *UnsupportedQueryError) Error() string {
	return ruleMessage("unsupported query", e.Table, e.Column, e.Rule, e.Detail)
}

// RequiresRelaxedFilteringError 查询需要显式开启 ALLOW FILTERING
type RequiresRelaxedFilteringError struct {
	Table  string
	Column string
	Detail string
}

func (e *RequiresRelaxedFilteringError) Error() string {
	msg := fmt.Sprintf("restriction on %s requires ALLOW FILTERING", qualified(e.Table, e.Column))
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// BatchCompositionError 批量语句无法保证原子性
type BatchCompositionError struct {
	Table  string
	Index  int // 出问题的语句下标，-1 表示整个批次
	Rule   string
	Detail string
}

func (e *BatchCompositionError) Error() string {
	msg := fmt.Sprintf("invalid batch [%s]", e.Rule)
	if e.Table != "" {
		msg += " on " + e.Table
	}
	if e.Index >= 0 {
		msg += fmt.Sprintf(" at statement %d", e.Index)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func qualified(table, column string) string {
	switch {
	case table == "":
		return column
	case column == "":
		return table
	default:
		return table + "." + column
	}
}

func ruleMessage(prefix, table, column, rule, detail string) string {
	var b strings.Builder
	b.WriteString(prefix)
	fmt.Fprintf(&b, " [%s]", rule)
	if target := qualified(table, column); target != "" {
		b.WriteString(" on ")
		b.WriteString(target)
	}
	if detail != "" {
		b.WriteString(": ")
		b.WriteString(detail)
	}
	return b.String()
}
