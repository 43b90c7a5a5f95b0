package queryset

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hatlonely/cqlx/cql"
	"github.com/hatlonely/cqlx/cql/builder"
	"github.com/hatlonely/cqlx/cql/query"
	"github.com/hatlonely/cqlx/cql/schema"
)

// QuerySet 不可变的链式查询描述，每次链式调用返回新值
// 链式调用中的第一个错误会被记录下来，并在物化时返回
type QuerySet struct {
	schema *schema.Schema
	q      builder.SelectQuery
	err    error
}

func New(s *schema.Schema) QuerySet {
	return QuerySet{schema: s}
}

func (qs QuerySet) Schema() *schema.Schema {
	return qs.schema
}

// Err 返回链式调用中记录的第一个错误
func (qs QuerySet) Err() error {
	return qs.err
}

// Filters 返回已添加的过滤条件副本
func (qs QuerySet) Filters() []query.Filter {
	return slices.Clone(qs.q.Filters)
}

// Query 返回当前的查询参数副本
func (qs QuerySet) Query() builder.SelectQuery {
	return qs.clone().q
}

func (qs QuerySet) clone() QuerySet {
	out := qs
	out.q.Columns = slices.Clone(qs.q.Columns)
	out.q.Filters = slices.Clone(qs.q.Filters)
	out.q.OrderBy = slices.Clone(qs.q.OrderBy)
	out.q.GroupBy = slices.Clone(qs.q.GroupBy)
	out.q.PageState = slices.Clone(qs.q.PageState)
	return out
}

func (qs QuerySet) fail(err error) QuerySet {
	if qs.err == nil {
		qs.err = err
	}
	return qs
}

// Filter 追加过滤条件，并立即检查列与比较符、操作数类型是否匹配
func (qs QuerySet) Filter(filters ...query.Filter) QuerySet {
	out := qs.clone()
	for _, f := range filters {
		if _, err := qs.schema.CoerceFilter(f); err != nil {
			return out.fail(err)
		}
		f.Values = slices.Clone(f.Values)
		out.q.Filters = append(out.q.Filters, f)
	}
	return out
}

// Where Filter 的简写，如 Where("id", query.OpEq, id)
func (qs QuerySet) Where(column string, op query.Operator, values ...any) QuerySet {
	return qs.Filter(query.Filter{Column: column, Op: op, Values: values})
}

// OrderBy 记录排序意图，是否合法在物化时结合全部过滤条件判断
func (qs QuerySet) OrderBy(orders ...query.Order) QuerySet {
	out := qs.clone()
	out.q.OrderBy = append(out.q.OrderBy, orders...)
	return out
}

func (qs QuerySet) Limit(n int) QuerySet {
	if n <= 0 {
		return qs.fail(&cql.UnsupportedQueryError{Table: qs.schema.Table(), Rule: cql.RuleLimit, Detail: fmt.Sprintf("limit must be positive, got %d", n)})
	}
	out := qs.clone()
	out.q.Limit = n
	return out
}

func (qs QuerySet) PerPartitionLimit(n int) QuerySet {
	if n <= 0 {
		return qs.fail(&cql.UnsupportedQueryError{Table: qs.schema.Table(), Rule: cql.RuleLimit, Detail: fmt.Sprintf("per partition limit must be positive, got %d", n)})
	}
	out := qs.clone()
	out.q.PerPartitionLimit = n
	return out
}

// AllowFiltering 允许需要 ALLOW FILTERING 的查询
func (qs QuerySet) AllowFiltering() QuerySet {
	out := qs.clone()
	out.q.AllowFiltering = true
	return out
}

// Only 只查询指定的列
func (qs QuerySet) Only(columns ...string) QuerySet {
	out := qs.clone()
	for _, column := range columns {
		if _, ok := qs.schema.Column(column); !ok {
			return out.fail(&cql.UnsupportedQueryError{Table: qs.schema.Table(), Column: column, Rule: cql.RuleUnknownColumn, Detail: fmt.Sprintf("column %s is not declared", column)})
		}
	}
	out.q.Columns = slices.Clone(columns)
	return out
}

func (qs QuerySet) PageSize(n int) QuerySet {
	if n < 0 {
		return qs.fail(&cql.UnsupportedQueryError{Table: qs.schema.Table(), Rule: cql.RuleLimit, Detail: fmt.Sprintf("page size must not be negative, got %d", n)})
	}
	out := qs.clone()
	out.q.PageSize = n
	return out
}

// PageState 从上一页返回的翻页标记继续查询
func (qs QuerySet) PageState(state []byte) QuerySet {
	out := qs.clone()
	out.q.PageState = slices.Clone(state)
	return out
}

func (qs QuerySet) GroupBy(columns ...string) QuerySet {
	out := qs.clone()
	out.q.GroupBy = append(out.q.GroupBy, columns...)
	return out
}

// Count 查询 COUNT(*)
func (qs QuerySet) Count() QuerySet {
	out := qs.clone()
	out.q.Count = true
	return out
}

func (qs QuerySet) Distinct() QuerySet {
	out := qs.clone()
	out.q.Distinct = true
	return out
}

// Select 物化为查询语句
func (qs QuerySet) Select() (builder.Statement, error) {
	if qs.err != nil {
		return builder.Statement{}, qs.err
	}
	return builder.Select(qs.schema, qs.clone().q)
}

// Update 物化为更新语句，过滤条件作为 WHERE
func (qs QuerySet) Update(assignments []query.Assignment, opts ...builder.WriteOption) (builder.Statement, error) {
	if err := qs.writable("update"); err != nil {
		return builder.Statement{}, err
	}
	return builder.Update(qs.schema, slices.Clone(assignments), qs.Filters(), opts...)
}

// Delete 物化为删除语句，过滤条件作为 WHERE
func (qs QuerySet) Delete(opts ...builder.WriteOption) (builder.Statement, error) {
	if err := qs.writable("delete"); err != nil {
		return builder.Statement{}, err
	}
	return builder.Delete(qs.schema, qs.Filters(), opts...)
}

// writable 写语句只使用过滤条件，查询专用的设置不能被静默忽略
func (qs QuerySet) writable(operation string) error {
	if qs.err != nil {
		return qs.err
	}
	var clauses []string
	q := qs.q
	if len(q.Columns) > 0 {
		clauses = append(clauses, "projection")
	}
	if len(q.OrderBy) > 0 {
		clauses = append(clauses, "ORDER BY")
	}
	if len(q.GroupBy) > 0 {
		clauses = append(clauses, "GROUP BY")
	}
	if q.Limit > 0 || q.PerPartitionLimit > 0 {
		clauses = append(clauses, "LIMIT")
	}
	if q.AllowFiltering {
		clauses = append(clauses, "ALLOW FILTERING")
	}
	if q.Count || q.Distinct {
		clauses = append(clauses, "aggregation")
	}
	if len(clauses) == 0 {
		return nil
	}
	return &cql.UnsupportedQueryError{
		Table:  qs.schema.Table(),
		Rule:   cql.RuleWriteFilter,
		Detail: fmt.Sprintf("%s cannot be used in %s", strings.Join(clauses, ", "), strings.ToUpper(operation)),
	}
}

func (qs QuerySet) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "QuerySet(%s", qs.schema.QualifiedTable())
	for _, f := range qs.q.Filters {
		fmt.Fprintf(&b, " %s", f)
	}
	if qs.err != nil {
		fmt.Fprintf(&b, " err=%v", qs.err)
	}
	b.WriteString(")")
	return b.String()
}
