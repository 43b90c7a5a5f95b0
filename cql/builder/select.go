package builder

import (
	"fmt"
	"strings"

	"github.com/hatlonely/cqlx/cql"
	"github.com/hatlonely/cqlx/cql/query"
	"github.com/hatlonely/cqlx/cql/schema"
)

// SelectQuery 查询参数
type SelectQuery struct {
	Columns           []string // 为空时查询所有列
	Filters           []query.Filter
	OrderBy           []query.Order
	GroupBy           []string
	Limit             int
	PerPartitionLimit int
	AllowFiltering    bool
	Count             bool
	Distinct          bool
	PageSize          int
	PageState         []byte
}

// Select 渲染查询语句
// WHERE 按 分区键、聚簇键、其他列 的顺序输出；需要 ALLOW FILTERING 而未开启时返回
// *cql.RequiresRelaxedFilteringError，开启时总是追加 ALLOW FILTERING
func Select(s *schema.Schema, q SelectQuery) (Statement, error) {
	unsupported := func(column, rule, format string, args ...any) error {
		return &cql.UnsupportedQueryError{Table: s.Table(), Column: column, Rule: rule, Detail: fmt.Sprintf(format, args...)}
	}
	if q.Limit < 0 || q.PerPartitionLimit < 0 {
		return Statement{}, unsupported("", cql.RuleLimit, "limit must be positive")
	}
	if q.PageSize < 0 {
		return Statement{}, unsupported("", cql.RuleLimit, "page size must not be negative")
	}

	r, err := restrict(s, q.Filters)
	if err != nil {
		return Statement{}, err
	}

	projection, err := project(s, q, r)
	if err != nil {
		return Statement{}, err
	}

	indexed, filtering := plan(s, r)
	if filtering != nil && !q.AllowFiltering {
		return Statement{}, filtering
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", projection, s.QualifiedTable())
	where, values := r.where()
	b.WriteString(where)

	if len(q.GroupBy) > 0 {
		pk := s.PrimaryKey()
		if len(q.GroupBy) > len(pk) {
			return Statement{}, unsupported(q.GroupBy[len(pk)], cql.RuleGroupBy, "GROUP BY columns must be a prefix of the primary key")
		}
		grouped := make([]string, 0, len(q.GroupBy))
		for i, column := range q.GroupBy {
			if _, ok := s.Column(column); !ok {
				return Statement{}, unsupported(column, cql.RuleUnknownColumn, "column %s is not declared", column)
			}
			if pk[i] != column {
				return Statement{}, unsupported(column, cql.RuleGroupBy, "GROUP BY columns must follow the primary key order %s", strings.Join(pk, ", "))
			}
			grouped = append(grouped, cql.Quote(column))
		}
		b.WriteString(" GROUP BY " + strings.Join(grouped, ", "))
	}

	if len(q.OrderBy) > 0 {
		clause, err := orderBy(s, q.OrderBy, r, indexed)
		if err != nil {
			return Statement{}, err
		}
		b.WriteString(clause)
	}

	if q.PerPartitionLimit > 0 {
		fmt.Fprintf(&b, " PER PARTITION LIMIT %d", q.PerPartitionLimit)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	if q.AllowFiltering {
		b.WriteString(" ALLOW FILTERING")
	}

	return Statement{
		Kind:            KindSelect,
		Keyspace:        s.Keyspace(),
		Table:           s.Table(),
		CQL:             b.String(),
		Values:          values,
		PartitionValues: r.partitionValues(),
		PageSize:        q.PageSize,
		PageState:       q.PageState,
	}, nil
}

func project(s *schema.Schema, q SelectQuery, r *restrictions) (string, error) {
	unsupported := func(column, rule, format string, args ...any) error {
		return &cql.UnsupportedQueryError{Table: s.Table(), Column: column, Rule: rule, Detail: fmt.Sprintf(format, args...)}
	}

	seen := map[string]bool{}
	for _, column := range q.Columns {
		if _, ok := s.Column(column); !ok {
			return "", unsupported(column, cql.RuleUnknownColumn, "column %s is not declared", column)
		}
		if seen[column] {
			return "", unsupported(column, cql.RuleProjection, "column %s is selected more than once", column)
		}
		seen[column] = true
	}

	if q.Distinct && q.PerPartitionLimit > 0 {
		return "", unsupported("", cql.RuleDistinct, "PER PARTITION LIMIT cannot be combined with DISTINCT")
	}
	if q.Count {
		if q.Distinct {
			return "", unsupported("", cql.RuleDistinct, "COUNT cannot be combined with DISTINCT")
		}
		if len(q.Columns) > 0 {
			return "", unsupported(q.Columns[0], cql.RuleProjection, "COUNT cannot be combined with a column projection")
		}
		grouped := make([]string, 0, len(q.GroupBy)+1)
		for _, column := range q.GroupBy {
			grouped = append(grouped, cql.Quote(column))
		}
		return strings.Join(append(grouped, "COUNT(*)"), ", "), nil
	}

	columns := q.Columns
	if q.Distinct {
		if len(columns) == 0 {
			columns = s.PartitionKey()
		}
		for _, column := range columns {
			if kind := s.KindOf(column); kind != schema.KindPartitionKey && kind != schema.KindStatic {
				return "", unsupported(column, cql.RuleDistinct, "DISTINCT only selects partition key and static columns")
			}
		}
		for _, p := range s.PartitionKey() {
			if !contains(columns, p) {
				return "", unsupported(p, cql.RuleDistinct, "DISTINCT requires every partition key column in the projection")
			}
		}
		for _, column := range r.columns() {
			if s.KindOf(column) != schema.KindPartitionKey && s.KindOf(column) != schema.KindStatic {
				return "", unsupported(column, cql.RuleDistinct, "DISTINCT queries can only restrict partition key and static columns")
			}
		}
	}
	if len(columns) == 0 {
		columns = s.ColumnNames()
	}

	quoted := make([]string, 0, len(columns))
	for _, column := range columns {
		quoted = append(quoted, cql.Quote(column))
	}
	projection := strings.Join(quoted, ", ")
	if q.Distinct {
		projection = "DISTINCT " + projection
	}
	return projection, nil
}

// plan 判断查询是否需要 ALLOW FILTERING
// 返回使用二级索引的列，以及第一个需要 ALLOW FILTERING 的限定
func plan(s *schema.Schema, r *restrictions) ([]string, error) {
	var indexed []string
	var filtering error
	need := func(column, format string, args ...any) {
		if filtering == nil {
			filtering = &cql.RequiresRelaxedFilteringError{Table: s.Table(), Column: column, Detail: fmt.Sprintf(format, args...)}
		}
	}
	indexHit := func(column string) bool {
		if !indexable(s, column, r.byColumn[column]) {
			return false
		}
		indexed = append(indexed, column)
		return true
	}

	full := r.partitionRestricted()
	for _, p := range s.PartitionKey() {
		if !r.has(p) {
			continue
		}
		switch {
		case !r.equality(p):
			if !indexHit(p) {
				need(p, "partition key columns only support = and IN without ALLOW FILTERING")
			}
		case !full:
			if !indexHit(p) {
				need(p, "the partition key is only partially restricted")
			}
		}
	}

	gap, closed := "", false
	for _, c := range s.Clustering() {
		if !r.has(c.Name) {
			if gap == "" {
				gap = c.Name
			}
			continue
		}
		switch {
		case !full:
			if !indexHit(c.Name) {
				need(c.Name, "clustering restrictions require the full partition key")
			}
		case gap != "":
			if !indexHit(c.Name) {
				need(c.Name, "preceding clustering column %s is not restricted", gap)
			}
		case closed:
			if !indexHit(c.Name) {
				need(c.Name, "a preceding clustering column is restricted by a range")
			}
		default:
			for _, f := range r.byColumn[c.Name] {
				switch {
				case f.Op == query.OpContains || f.Op == query.OpContainsKey:
					if !indexHit(c.Name) {
						need(c.Name, "%s on a clustering column requires ALLOW FILTERING", f.Op)
					}
				case f.Op.IsRange():
					closed = true
				}
			}
		}
	}

	for _, column := range r.columns() {
		if s.PartitionPosition(column) >= 0 || s.ClusteringPosition(column) >= 0 {
			continue
		}
		if !indexHit(column) {
			need(column, "column is not part of the primary key and has no usable secondary index")
		}
	}

	if len(indexed) > 1 {
		need(indexed[1], "only one secondary index can be used per query, %s is already restricted", indexed[0])
	}
	return indexed, filtering
}

// indexable 列上的限定能否直接由二级索引处理
func indexable(s *schema.Schema, column string, filters []query.Filter) bool {
	if len(filters) != 1 {
		return false
	}
	c, _ := s.Column(column)
	op := filters[0].Op
	for _, idx := range s.Indexes() {
		if idx.Column != column {
			continue
		}
		switch idx.Target {
		case schema.TargetDefault:
			if c.Type.MultiCell() {
				if op == query.OpContains {
					return true
				}
			} else if op == query.OpEq {
				return true
			}
		case schema.TargetValues:
			if op == query.OpContains {
				return true
			}
		case schema.TargetKeys:
			if op == query.OpContainsKey {
				return true
			}
		case schema.TargetFull:
			if op == query.OpEq {
				return true
			}
		case schema.TargetEntries:
			// map 条目索引需要 m[key] = value 形式的限定，这里不支持
		}
	}
	return false
}

// orderBy ORDER BY 只能作用于聚簇键前缀，且分区键已经全部以 = 或 IN 限定
// 方向必须全部与声明一致或全部相反
func orderBy(s *schema.Schema, orders []query.Order, r *restrictions, indexed []string) (string, error) {
	unsupported := func(column, format string, args ...any) error {
		return &cql.UnsupportedQueryError{Table: s.Table(), Column: column, Rule: cql.RuleOrderBy, Detail: fmt.Sprintf(format, args...)}
	}
	if !r.partitionRestricted() {
		return "", unsupported(orders[0].Column, "ORDER BY requires every partition key column to be restricted by = or IN")
	}
	if len(indexed) > 0 {
		return "", unsupported(orders[0].Column, "ORDER BY is not supported together with a secondary index restriction")
	}

	clustering := s.Clustering()
	reversed := false
	parts := make([]string, 0, len(orders))
	for i, o := range orders {
		if _, ok := s.Column(o.Column); !ok {
			return "", &cql.UnsupportedQueryError{Table: s.Table(), Column: o.Column, Rule: cql.RuleUnknownColumn, Detail: fmt.Sprintf("column %s is not declared", o.Column)}
		}
		if s.ClusteringPosition(o.Column) < 0 {
			return "", unsupported(o.Column, "ORDER BY is only supported on clustering columns")
		}
		if i >= len(clustering) || clustering[i].Name != o.Column {
			return "", unsupported(o.Column, "ORDER BY columns must follow the clustering order %s", clusteringNames(clustering))
		}
		matches := (o.Desc && clustering[i].Order == schema.Desc) || (!o.Desc && clustering[i].Order == schema.Asc)
		if i == 0 {
			reversed = !matches
		} else if reversed == matches {
			return "", unsupported(o.Column, "ORDER BY directions must all match or all reverse the clustering order")
		}
		parts = append(parts, o.CQL())
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func clusteringNames(clustering []schema.ClusteringColumn) string {
	names := make([]string, 0, len(clustering))
	for _, c := range clustering {
		names = append(names, c.Name)
	}
	return strings.Join(names, ", ")
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
