package builder

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hatlonely/cqlx/cql"
	"github.com/hatlonely/cqlx/cql/schema"
	"github.com/hatlonely/cqlx/cql/types"
)

// CreateTable 渲染建表语句
func CreateTable(s *schema.Schema) Statement {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", s.QualifiedTable())
	for _, c := range s.Columns() {
		fmt.Fprintf(&b, "    %s", columnDefinition(c))
		b.WriteString(",\n")
	}

	key := s.Key()
	partition := make([]string, 0, len(key.Partition))
	for _, p := range key.Partition {
		partition = append(partition, cql.Quote(p))
	}
	primary := []string{"(" + strings.Join(partition, ", ") + ")"}
	for _, c := range key.Clustering {
		primary = append(primary, cql.Quote(c.Name))
	}
	fmt.Fprintf(&b, "    PRIMARY KEY (%s)\n)", strings.Join(primary, ", "))

	var with []string
	if len(key.Clustering) > 0 {
		orders := make([]string, 0, len(key.Clustering))
		for _, c := range key.Clustering {
			orders = append(orders, cql.Quote(c.Name)+" "+string(c.Order))
		}
		with = append(with, "CLUSTERING ORDER BY ("+strings.Join(orders, ", ")+")")
	}
	for _, opt := range TableOptions(s) {
		with = append(with, opt.Name+" = "+opt.Value)
	}
	if len(with) > 0 {
		b.WriteString(" WITH ")
		b.WriteString(strings.Join(with, "\n    AND "))
	}

	return Statement{Kind: KindSchema, Keyspace: s.Keyspace(), Table: s.Table(), CQL: b.String()}
}

func columnDefinition(c schema.Column) string {
	def := cql.Quote(c.Name) + " " + c.Type.String()
	if c.Static {
		def += " STATIC"
	}
	return def
}

// TableOption 渲染后的表选项
type TableOption struct {
	Name  string
	Value string
}

// TableOptions 返回模型声明的表选项，按 default_time_to_live、comment、其他选项名排序
// 只包含显式声明的选项
func TableOptions(s *schema.Schema) []TableOption {
	o := s.Options()
	var opts []TableOption
	if o.DefaultTTL > 0 {
		opts = append(opts, TableOption{Name: "default_time_to_live", Value: strconv.Itoa(o.DefaultTTL)})
	}
	if o.Comment != "" {
		opts = append(opts, TableOption{Name: "comment", Value: StringLiteral(o.Comment)})
	}
	names := make([]string, 0, len(o.Extra))
	for name := range o.Extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, TableOption{Name: name, Value: o.Extra[name]})
	}
	return opts
}

// StringLiteral 渲染单引号字符串字面量
func StringLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// CreateIndex 为列渲染建索引语句，使用模型中声明的索引，未声明时使用默认索引名
func CreateIndex(s *schema.Schema, column string) (Statement, error) {
	for _, idx := range s.Indexes() {
		if idx.Column == column {
			return IndexStatement(s, idx), nil
		}
	}
	if _, ok := s.Column(column); !ok {
		return Statement{}, &cql.UnsupportedQueryError{Table: s.Table(), Column: column, Rule: cql.RuleUnknownColumn, Detail: fmt.Sprintf("column %s is not declared", column)}
	}
	if pk := s.PartitionKey(); len(pk) == 1 && pk[0] == column {
		return Statement{}, &cql.SchemaDefinitionError{Table: s.Table(), Column: column, Rule: cql.RuleSolePartitionIndex, Detail: "the sole partition key column cannot be indexed"}
	}
	return IndexStatement(s, schema.Index{Name: schema.IndexName(s.Table(), column), Column: column}), nil
}

// CreateIndexes 渲染模型声明的所有索引
func CreateIndexes(s *schema.Schema) []Statement {
	indexes := s.Indexes()
	stmts := make([]Statement, 0, len(indexes))
	for _, idx := range indexes {
		stmts = append(stmts, IndexStatement(s, idx))
	}
	return stmts
}

// IndexStatement 渲染单个索引
func IndexStatement(s *schema.Schema, idx schema.Index) Statement {
	return Statement{
		Kind:     KindSchema,
		Keyspace: s.Keyspace(),
		Table:    s.Table(),
		CQL:      fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", cql.Quote(idx.Name), s.QualifiedTable(), IndexTarget(s, idx)),
	}
}

// IndexTarget 渲染索引目标，冻结集合默认使用 FULL
func IndexTarget(s *schema.Schema, idx schema.Index) string {
	column := cql.Quote(idx.Column)
	target := idx.Target
	if target == schema.TargetDefault {
		if c, ok := s.Column(idx.Column); ok && c.Type.IsCollection() && !c.Type.MultiCell() {
			target = schema.TargetFull
		}
	}
	if target == schema.TargetDefault {
		return column
	}
	return strings.ToUpper(string(target)) + "(" + column + ")"
}

// CreateType 渲染 UDT 建类型语句
func CreateType(keyspace string, ut *types.UserType) Statement {
	fields := make([]string, 0, len(ut.Fields))
	for _, f := range ut.Fields {
		fields = append(fields, cql.Quote(f.Name)+" "+f.Type.String())
	}
	return Statement{
		Kind:     KindSchema,
		Keyspace: keyspace,
		CQL:      fmt.Sprintf("CREATE TYPE IF NOT EXISTS %s (%s)", cql.QualifiedTable(keyspace, ut.Name), strings.Join(fields, ", ")),
	}
}

// AlterTypeAdd 为 UDT 增加字段
func AlterTypeAdd(keyspace, typeName string, field types.Field) Statement {
	return Statement{
		Kind:     KindSchema,
		Keyspace: keyspace,
		CQL:      fmt.Sprintf("ALTER TYPE %s ADD %s %s", cql.QualifiedTable(keyspace, typeName), cql.Quote(field.Name), field.Type.String()),
	}
}

// AlterTableAdd 为表增加列
func AlterTableAdd(s *schema.Schema, column string) (Statement, error) {
	c, ok := s.Column(column)
	if !ok {
		return Statement{}, &cql.UnsupportedQueryError{Table: s.Table(), Column: column, Rule: cql.RuleUnknownColumn, Detail: fmt.Sprintf("column %s is not declared", column)}
	}
	return Statement{
		Kind:     KindSchema,
		Keyspace: s.Keyspace(),
		Table:    s.Table(),
		CQL:      fmt.Sprintf("ALTER TABLE %s ADD %s", s.QualifiedTable(), columnDefinition(c)),
	}, nil
}

// AlterTableOptions 修改表选项
func AlterTableOptions(s *schema.Schema, opts []TableOption) Statement {
	parts := make([]string, 0, len(opts))
	for _, opt := range opts {
		parts = append(parts, opt.Name+" = "+opt.Value)
	}
	return Statement{
		Kind:     KindSchema,
		Keyspace: s.Keyspace(),
		Table:    s.Table(),
		CQL:      fmt.Sprintf("ALTER TABLE %s WITH %s", s.QualifiedTable(), strings.Join(parts, " AND ")),
	}
}
