package builder

import (
	"fmt"
	"strings"

	"github.com/hatlonely/cqlx/cql"
	"github.com/hatlonely/cqlx/cql/query"
	"github.com/hatlonely/cqlx/cql/schema"
	"github.com/hatlonely/cqlx/cql/types"
)

// Insert 渲染插入语句，只包含 values 中出现的列，按声明顺序输出
// 必填列缺失(或为 nil)时返回 *cql.MissingRequiredFieldError，默认值需要事先通过 Schema.Prepare 补充
func Insert(s *schema.Schema, values map[string]any, opts ...WriteOption) (Statement, error) {
	o := newWriteOptions(opts)
	if o.IfExists || len(o.Conditions) > 0 {
		return Statement{}, &cql.UnsupportedQueryError{Table: s.Table(), Rule: cql.RuleConditions, Detail: "INSERT only supports IF NOT EXISTS"}
	}
	if len(o.Columns) > 0 {
		return Statement{}, &cql.UnsupportedQueryError{Table: s.Table(), Rule: cql.RuleWriteOption, Detail: "column subsets only apply to DELETE"}
	}
	for name := range values {
		if _, ok := s.Column(name); !ok {
			return Statement{}, &cql.UnsupportedQueryError{Table: s.Table(), Column: name, Rule: cql.RuleUnknownColumn, Detail: fmt.Sprintf("column %s is not declared", name)}
		}
	}

	var columns []string
	var bound []any
	for _, c := range s.Columns() {
		v, present := values[c.Name]
		if c.Required && (!present || v == nil) {
			return Statement{}, &cql.MissingRequiredFieldError{Table: s.Table(), Column: c.Name}
		}
		if !present {
			continue
		}
		stored, err := s.ToStore(c.Name, v)
		if err != nil {
			return Statement{}, err
		}
		if c.Required && stored == nil {
			return Statement{}, &cql.MissingRequiredFieldError{Table: s.Table(), Column: c.Name}
		}
		columns = append(columns, cql.Quote(c.Name))
		bound = append(bound, stored)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)", s.QualifiedTable(), strings.Join(columns, ", "), query.Placeholders(len(columns)))
	if o.IfNotExists {
		b.WriteString(" IF NOT EXISTS")
	}
	using, err := o.using(s.Table(), true)
	if err != nil {
		return Statement{}, err
	}
	b.WriteString(using)

	pk := s.PartitionKey()
	partition := make([]any, 0, len(pk))
	for _, p := range pk {
		partition = append(partition, bound[indexOf(columns, cql.Quote(p))])
	}

	return Statement{
		Kind:            KindInsert,
		Keyspace:        s.Keyspace(),
		Table:           s.Table(),
		CQL:             b.String(),
		Values:          bound,
		PartitionValues: partition,
	}, nil
}

// Update 渲染更新语句
// 分区键必须全部以 = 或 IN 限定，聚簇键满足前缀规则；写入非静态普通列时需要完整的主键
func Update(s *schema.Schema, assignments []query.Assignment, filters []query.Filter, opts ...WriteOption) (Statement, error) {
	o := newWriteOptions(opts)
	if o.IfNotExists {
		return Statement{}, &cql.UnsupportedQueryError{Table: s.Table(), Rule: cql.RuleConditions, Detail: "UPDATE does not support IF NOT EXISTS"}
	}
	if len(o.Columns) > 0 {
		return Statement{}, &cql.UnsupportedQueryError{Table: s.Table(), Rule: cql.RuleWriteOption, Detail: "column subsets only apply to DELETE"}
	}
	if len(assignments) == 0 {
		return Statement{}, &cql.UnsupportedQueryError{Table: s.Table(), Rule: cql.RuleNoAssignments, Detail: "UPDATE requires at least one assignment"}
	}

	regular := false
	seen := map[string]bool{}
	var sets []string
	var bound []any
	for _, a := range assignments {
		c, ok := s.Column(a.Column)
		if !ok {
			return Statement{}, &cql.UnsupportedQueryError{Table: s.Table(), Column: a.Column, Rule: cql.RuleUnknownColumn, Detail: fmt.Sprintf("column %s is not declared", a.Column)}
		}
		if kind := s.KindOf(a.Column); kind == schema.KindPartitionKey || kind == schema.KindClustering {
			return Statement{}, &cql.UnsupportedQueryError{Table: s.Table(), Column: a.Column, Rule: cql.RuleKeyAssignment, Detail: "primary key columns cannot be updated"}
		}
		if seen[a.Column] {
			return Statement{}, &cql.UnsupportedQueryError{Table: s.Table(), Column: a.Column, Rule: cql.RuleAssignment, Detail: "column is assigned more than once"}
		}
		seen[a.Column] = true
		if !c.Static {
			regular = true
		}

		coerced, err := coerceAssignment(s, c, a)
		if err != nil {
			return Statement{}, err
		}
		clause, values, err := coerced.CQL()
		if err != nil {
			return Statement{}, err
		}
		sets = append(sets, clause)
		bound = append(bound, values...)
	}

	r, err := restrict(s, filters)
	if err != nil {
		return Statement{}, err
	}
	if !regular && r.hasClustering() {
		return Statement{}, &cql.UnsupportedQueryError{Table: s.Table(), Column: r.firstClustering(), Rule: cql.RuleWriteFilter, Detail: "updates of static columns only can not restrict clustering columns"}
	}
	if err := r.checkWriteKey("update", regular, false); err != nil {
		return Statement{}, err
	}

	using, err := o.using(s.Table(), true)
	if err != nil {
		return Statement{}, err
	}
	where, whereValues := r.where()
	condition, conditionValues, err := conditions(s, o)
	if err != nil {
		return Statement{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "UPDATE %s%s SET %s%s%s", s.QualifiedTable(), using, strings.Join(sets, ", "), where, condition)
	values := append(append(bound, whereValues...), conditionValues...)

	return Statement{
		Kind:            KindUpdate,
		Keyspace:        s.Keyspace(),
		Table:           s.Table(),
		CQL:             b.String(),
		Values:          values,
		PartitionValues: r.partitionValues(),
	}, nil
}

// Delete 渲染删除语句
// 只给出分区键时删除整个分区；聚簇键满足前缀规则，最后一个可以是范围条件；
// 通过 DeleteColumns 只删除部分列，删除非静态列需要完整的主键
func Delete(s *schema.Schema, filters []query.Filter, opts ...WriteOption) (Statement, error) {
	o := newWriteOptions(opts)
	columns := o.Columns
	if o.IfNotExists {
		return Statement{}, &cql.UnsupportedQueryError{Table: s.Table(), Rule: cql.RuleConditions, Detail: "DELETE does not support IF NOT EXISTS"}
	}

	regular := false
	quoted := make([]string, 0, len(columns))
	for _, column := range columns {
		c, ok := s.Column(column)
		if !ok {
			return Statement{}, &cql.UnsupportedQueryError{Table: s.Table(), Column: column, Rule: cql.RuleUnknownColumn, Detail: fmt.Sprintf("column %s is not declared", column)}
		}
		if kind := s.KindOf(column); kind == schema.KindPartitionKey || kind == schema.KindClustering {
			return Statement{}, &cql.UnsupportedQueryError{Table: s.Table(), Column: column, Rule: cql.RuleKeyAssignment, Detail: "primary key columns cannot be deleted individually"}
		}
		if !c.Static {
			regular = true
		}
		quoted = append(quoted, cql.Quote(column))
	}

	r, err := restrict(s, filters)
	if err != nil {
		return Statement{}, err
	}
	conditional := o.IfExists || len(o.Conditions) > 0
	if err := r.checkWriteKey("delete", regular || (conditional && r.hasClustering()), !conditional); err != nil {
		return Statement{}, err
	}

	using, err := o.using(s.Table(), false)
	if err != nil {
		return Statement{}, err
	}
	where, values := r.where()
	condition, conditionValues, err := conditions(s, o)
	if err != nil {
		return Statement{}, err
	}

	var b strings.Builder
	b.WriteString("DELETE ")
	if len(quoted) > 0 {
		b.WriteString(strings.Join(quoted, ", ") + " ")
	}
	fmt.Fprintf(&b, "FROM %s%s%s%s", s.QualifiedTable(), using, where, condition)

	return Statement{
		Kind:            KindDelete,
		Keyspace:        s.Keyspace(),
		Table:           s.Table(),
		CQL:             b.String(),
		Values:          append(values, conditionValues...),
		PartitionValues: r.partitionValues(),
	}, nil
}

// coerceAssignment 按赋值操作检查列类型，并把值转换为存储形式
func coerceAssignment(s *schema.Schema, c schema.Column, a query.Assignment) (query.Assignment, error) {
	fail := func(format string, args ...any) error {
		return &cql.UnsupportedQueryError{Table: s.Table(), Column: c.Name, Rule: cql.RuleAssignment, Detail: fmt.Sprintf(format, args...)}
	}
	convert := func(t types.Type, v any) (any, error) {
		stored, err := types.ToStore(t, v)
		if err != nil {
			return nil, types.WithColumn(err, s.Table(), c.Name)
		}
		return stored, nil
	}

	t := c.Type
	out := query.Assignment{Column: a.Column, Op: a.Op}
	var err error
	switch a.Op {
	case query.AssignSet:
		if c.Required && a.Value == nil {
			return out, &cql.MissingRequiredFieldError{Table: s.Table(), Column: c.Name}
		}
		out.Value, err = convert(t, a.Value)
		if err == nil && c.Required && out.Value == nil {
			return out, &cql.MissingRequiredFieldError{Table: s.Table(), Column: c.Name}
		}
		return out, err
	case query.AssignAdd:
		if !t.MultiCell() {
			return out, fail("%s requires a non-frozen collection column", a.Op)
		}
		out.Value, err = convert(t, a.Value)
	case query.AssignPrepend:
		if !t.MultiCell() || t.Kind != types.KindList {
			return out, fail("%s requires a non-frozen list column", a.Op)
		}
		out.Value, err = convert(t, a.Value)
	case query.AssignRemove:
		if !t.MultiCell() {
			return out, fail("%s requires a non-frozen collection column", a.Op)
		}
		if t.Kind == types.KindMap {
			out.Value, err = convert(types.SetOf(*t.Key), a.Value)
		} else {
			out.Value, err = convert(t, a.Value)
		}
	case query.AssignSetKey:
		if !t.MultiCell() || (t.Kind != types.KindMap && t.Kind != types.KindList) {
			return out, fail("%s requires a non-frozen map or list column", a.Op)
		}
		if t.Kind == types.KindMap {
			out.Key, err = convert(*t.Key, a.Key)
		} else {
			out.Key, err = convert(types.Int, a.Key)
		}
		if err != nil {
			return out, err
		}
		if out.Key == nil {
			return out, fail("%s requires a key", a.Op)
		}
		out.Value, err = convert(*t.Elem, a.Value)
	default:
		return out, fail("unknown assignment %q", a.Op)
	}
	if err != nil {
		return out, err
	}
	if out.Value == nil {
		return out, fail("%s requires a value", a.Op)
	}
	return out, nil
}

// conditions 渲染 IF EXISTS 或 IF 条件
// 条件只能作用于非主键列，支持 = != < <= > >= IN
func conditions(s *schema.Schema, o *WriteOptions) (string, []any, error) {
	if o.IfExists && len(o.Conditions) > 0 {
		return "", nil, &cql.UnsupportedQueryError{Table: s.Table(), Rule: cql.RuleConditions, Detail: "IF EXISTS cannot be combined with IF conditions"}
	}
	if o.IfExists {
		return " IF EXISTS", nil, nil
	}
	if len(o.Conditions) == 0 {
		return "", nil, nil
	}
	parts := make([]string, 0, len(o.Conditions))
	var values []any
	for _, f := range o.Conditions {
		if kind := s.KindOf(f.Column); kind == schema.KindPartitionKey || kind == schema.KindClustering {
			return "", nil, &cql.UnsupportedQueryError{Table: s.Table(), Column: f.Column, Rule: cql.RuleConditions, Detail: "IF conditions cannot use primary key columns"}
		}
		coerced, err := s.CoerceFilter(f)
		if err != nil {
			return "", nil, err
		}
		if coerced.Op == query.OpContains || coerced.Op == query.OpContainsKey {
			return "", nil, &cql.UnsupportedQueryError{Table: s.Table(), Column: f.Column, Rule: cql.RuleConditions, Detail: fmt.Sprintf("%s is not supported in IF conditions", coerced.Op)}
		}
		parts = append(parts, coerced.CQL())
		values = append(values, coerced.Values...)
	}
	return " IF " + strings.Join(parts, " AND "), values, nil
}

func (r *restrictions) hasClustering() bool {
	return r.firstClustering() != ""
}

func (r *restrictions) firstClustering() string {
	for _, c := range r.schema.Clustering() {
		if r.has(c.Name) {
			return c.Name
		}
	}
	return ""
}

func indexOf(list []string, s string) int {
	for i, item := range list {
		if item == s {
			return i
		}
	}
	return -1
}
