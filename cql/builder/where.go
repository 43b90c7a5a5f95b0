package builder

import (
	"fmt"
	"strings"

	"github.com/hatlonely/cqlx/cql"
	"github.com/hatlonely/cqlx/cql/query"
	"github.com/hatlonely/cqlx/cql/schema"
)

// restrictions 按列归并的已转换过滤条件
type restrictions struct {
	schema   *schema.Schema
	byColumn map[string][]query.Filter
}

// restrict 校验并归并过滤条件
// WHERE 中不支持 !=；同一列上 = 或 IN 不能与其他条件并用，同方向的范围条件只能有一个
func restrict(s *schema.Schema, filters []query.Filter) (*restrictions, error) {
	r := &restrictions{schema: s, byColumn: map[string][]query.Filter{}}
	for _, f := range filters {
		coerced, err := s.CoerceFilter(f)
		if err != nil {
			return nil, err
		}
		if coerced.Op == query.OpNe {
			return nil, &cql.UnsupportedQueryError{Table: s.Table(), Column: f.Column, Rule: cql.RuleWhereNotEqual, Detail: "!= is only supported in IF conditions"}
		}
		for _, existing := range r.byColumn[f.Column] {
			if conflicting(existing.Op, coerced.Op) {
				return nil, &cql.UnsupportedQueryError{Table: s.Table(), Column: f.Column, Rule: cql.RuleMultipleRelations, Detail: fmt.Sprintf("%s cannot be combined with %s on the same column", coerced.Op, existing.Op)}
			}
		}
		r.byColumn[f.Column] = append(r.byColumn[f.Column], coerced)
	}
	return r, nil
}

func conflicting(a, b query.Operator) bool {
	if a.IsEquality() || b.IsEquality() {
		return true
	}
	lower := func(o query.Operator) bool { return o == query.OpGt || o == query.OpGe }
	upper := func(o query.Operator) bool { return o == query.OpLt || o == query.OpLe }
	return lower(a) && lower(b) || upper(a) && upper(b)
}

func (r *restrictions) has(column string) bool {
	return len(r.byColumn[column]) > 0
}

func (r *restrictions) empty() bool {
	return len(r.byColumn) == 0
}

// equality 列是否只以 = 或 IN 限定
func (r *restrictions) equality(column string) bool {
	fs := r.byColumn[column]
	return len(fs) == 1 && fs[0].Op.IsEquality()
}

func (r *restrictions) hasRange(column string) bool {
	for _, f := range r.byColumn[column] {
		if f.Op.IsRange() {
			return true
		}
	}
	return false
}

// partitionRestricted 分区键是否全部以 = 或 IN 限定
func (r *restrictions) partitionRestricted() bool {
	for _, p := range r.schema.PartitionKey() {
		if !r.equality(p) {
			return false
		}
	}
	return true
}

// partitionValues 分区键全部以 = 限定时返回其值
func (r *restrictions) partitionValues() []any {
	pk := r.schema.PartitionKey()
	values := make([]any, 0, len(pk))
	for _, p := range pk {
		fs := r.byColumn[p]
		if len(fs) != 1 || fs[0].Op != query.OpEq {
			return nil
		}
		values = append(values, fs[0].Value())
	}
	return values
}

// columns 按 分区键 / 聚簇键 / 其他列(声明顺序) 返回被限定的列
func (r *restrictions) columns() []string {
	var out []string
	for _, p := range r.schema.PartitionKey() {
		if r.has(p) {
			out = append(out, p)
		}
	}
	for _, c := range r.schema.Clustering() {
		if r.has(c.Name) {
			out = append(out, c.Name)
		}
	}
	for _, name := range r.schema.ColumnNames() {
		if r.has(name) && r.schema.PartitionPosition(name) < 0 && r.schema.ClusteringPosition(name) < 0 {
			out = append(out, name)
		}
	}
	return out
}

// where 渲染 WHERE 子句及绑定值
func (r *restrictions) where() (string, []any) {
	var parts []string
	var values []any
	for _, column := range r.columns() {
		for _, f := range r.byColumn[column] {
			parts = append(parts, f.CQL())
			values = append(values, f.Values...)
		}
	}
	if len(parts) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(parts, " AND "), values
}

// checkWriteKey 校验写语句的主键限定
// 分区键必须全部以 = 或 IN 限定；聚簇键满足前缀规则，allowRange 时最后一个可以是范围条件；
// fullClustering 时所有聚簇列都必须以 = 或 IN 限定
func (r *restrictions) checkWriteKey(operation string, fullClustering, allowRange bool) error {
	s := r.schema
	for _, name := range r.columns() {
		if s.PartitionPosition(name) < 0 && s.ClusteringPosition(name) < 0 {
			return &cql.UnsupportedQueryError{Table: s.Table(), Column: name, Rule: cql.RuleWriteFilter, Detail: fmt.Sprintf("%s can only be restricted by primary key columns", strings.ToUpper(operation))}
		}
		for _, f := range r.byColumn[name] {
			if f.Op == query.OpContains || f.Op == query.OpContainsKey {
				return &cql.UnsupportedQueryError{Table: s.Table(), Column: name, Rule: cql.RuleWriteFilter, Detail: fmt.Sprintf("%s is not supported in %s", f.Op, strings.ToUpper(operation))}
			}
		}
	}

	for _, p := range s.PartitionKey() {
		if !r.has(p) {
			return &cql.IncompleteKeyError{Table: s.Table(), Column: p, Operation: operation}
		}
		if !r.equality(p) {
			return &cql.IncompleteKeyError{Table: s.Table(), Column: p, Operation: operation, Detail: "partition key columns require = or IN"}
		}
	}

	var gap string
	closed := false
	for _, c := range s.Clustering() {
		if !r.has(c.Name) {
			if fullClustering {
				return &cql.IncompleteKeyError{Table: s.Table(), Column: c.Name, Operation: operation, Detail: "writing regular columns requires the full primary key"}
			}
			if gap == "" {
				gap = c.Name
			}
			continue
		}
		if gap != "" {
			return &cql.IncompleteKeyError{Table: s.Table(), Column: gap, Operation: operation, Detail: fmt.Sprintf("%s is restricted but preceding clustering column %s is not", c.Name, gap)}
		}
		if closed {
			return &cql.IncompleteKeyError{Table: s.Table(), Column: c.Name, Operation: operation, Detail: "only the last restricted clustering column may use a range"}
		}
		if r.hasRange(c.Name) {
			if !allowRange || fullClustering {
				return &cql.IncompleteKeyError{Table: s.Table(), Column: c.Name, Operation: operation, Detail: "clustering columns require = or IN"}
			}
			closed = true
		}
	}
	return nil
}
