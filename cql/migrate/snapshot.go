package migrate

import (
	"regexp"
	"sort"
	"strings"

	"github.com/hatlonely/cqlx/cql"
	"github.com/hatlonely/cqlx/cql/builder"
	"github.com/hatlonely/cqlx/cql/schema"
	"github.com/hatlonely/cqlx/cql/types"
)

// Snapshot 一个 keyspace 的实时 schema，来自 system_schema 或由 SnapshotOf 推导
type Snapshot struct {
	Keyspace string
	Tables   map[string]*LiveTable
	Types    map[string]*LiveType
}

// LiveTable 实时表结构
type LiveTable struct {
	Name    string
	Columns []LiveColumn
	Indexes []LiveIndex
	Options map[string]string // 选项名 -> CQL 字面量，如 default_time_to_live -> 3600
}

// LiveColumn 与 system_schema.columns 一一对应
type LiveColumn struct {
	Name     string
	Type     string // CQL 类型文本
	Kind     schema.ColumnKind
	Position int // 在分区键或聚簇键中的位置，普通列为 -1
	Order    schema.ClusteringOrder
}

type LiveIndex struct {
	Name   string
	Column string
	Target schema.IndexTarget
}

type LiveType struct {
	Name   string
	Fields []LiveField
}

type LiveField struct {
	Name string
	Type string
}

func NewSnapshot(keyspace string) *Snapshot {
	return &Snapshot{
		Keyspace: keyspace,
		Tables:   map[string]*LiveTable{},
		Types:    map[string]*LiveType{},
	}
}

// Table 按名称查找表，快照为 nil 时视为不存在
func (s *Snapshot) Table(name string) (*LiveTable, bool) {
	if s == nil || s.Tables == nil {
		return nil, false
	}
	t, ok := s.Tables[name]
	return t, ok
}

func (s *Snapshot) Type(name string) (*LiveType, bool) {
	if s == nil || s.Types == nil {
		return nil, false
	}
	t, ok := s.Types[name]
	return t, ok
}

// Column 按名称查找列
func (t *LiveTable) Column(name string) (LiveColumn, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return LiveColumn{}, false
}

// PartitionKey 按位置排列的分区键列名
func (t *LiveTable) PartitionKey() []string {
	var cols []LiveColumn
	for _, c := range t.Columns {
		if c.Kind == schema.KindPartitionKey {
			cols = append(cols, c)
		}
	}
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Position < cols[j].Position })
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.Name)
	}
	return names
}

// Clustering 按位置排列的聚簇列
func (t *LiveTable) Clustering() []schema.ClusteringColumn {
	var cols []LiveColumn
	for _, c := range t.Columns {
		if c.Kind == schema.KindClustering {
			cols = append(cols, c)
		}
	}
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Position < cols[j].Position })
	out := make([]schema.ClusteringColumn, 0, len(cols))
	for _, c := range cols {
		order := c.Order
		if order == "" {
			order = schema.Asc
		}
		out = append(out, schema.ClusteringColumn{Name: c.Name, Order: order})
	}
	return out
}

func (t *LiveType) Field(name string) (LiveField, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return LiveField{}, false
}

// SnapshotOf 推导 schema 创建完成后存储中应有的快照
func SnapshotOf(schemas ...*schema.Schema) *Snapshot {
	snap := NewSnapshot("")
	for _, s := range schemas {
		if snap.Keyspace == "" {
			snap.Keyspace = s.Keyspace()
		}
		for _, ut := range s.UserTypes() {
			if _, ok := snap.Types[ut.Name]; !ok {
				snap.Types[ut.Name] = liveType(ut)
			}
		}
		snap.Tables[s.Table()] = liveTable(s)
	}
	return snap
}

func liveTable(s *schema.Schema) *LiveTable {
	t := &LiveTable{Name: s.Table(), Options: map[string]string{}}
	for _, c := range s.Columns() {
		t.Columns = append(t.Columns, liveColumn(s, c))
	}
	for _, idx := range s.Indexes() {
		t.Indexes = append(t.Indexes, liveIndex(s, idx))
	}
	for _, opt := range builder.TableOptions(s) {
		t.Options[opt.Name] = opt.Value
	}
	return t
}

func liveColumn(s *schema.Schema, c schema.Column) LiveColumn {
	lc := LiveColumn{Name: c.Name, Type: c.Type.String(), Kind: s.KindOf(c.Name), Position: -1}
	switch lc.Kind {
	case schema.KindPartitionKey:
		lc.Position = s.PartitionPosition(c.Name)
	case schema.KindClustering:
		lc.Position = s.ClusteringPosition(c.Name)
		lc.Order = s.Clustering()[lc.Position].Order
	}
	return lc
}

func liveIndex(s *schema.Schema, idx schema.Index) LiveIndex {
	return LiveIndex{Name: idx.Name, Column: idx.Column, Target: effectiveTarget(s, idx.Column, idx.Target)}
}

func liveType(ut *types.UserType) *LiveType {
	lt := &LiveType{Name: ut.Name}
	for _, f := range ut.Fields {
		lt.Fields = append(lt.Fields, LiveField{Name: f.Name, Type: f.Type.String()})
	}
	return lt
}

// effectiveTarget 未声明的列没有集合语义，按默认目标处理
func effectiveTarget(s *schema.Schema, column string, target schema.IndexTarget) schema.IndexTarget {
	c, ok := s.Column(column)
	if !ok {
		return target
	}
	return c.EffectiveTarget(target)
}

// Apply 在快照上模拟执行 diff，返回新的快照，原快照不变
func (s *Snapshot) Apply(diff *SchemaDiff) *Snapshot {
	out := s.clone()
	if diff == nil {
		return out
	}
	for _, op := range diff.Operations {
		if op.apply != nil {
			op.apply(out)
		}
	}
	return out
}

func (s *Snapshot) clone() *Snapshot {
	if s == nil {
		return NewSnapshot("")
	}
	out := NewSnapshot(s.Keyspace)
	for name, t := range s.Tables {
		c := &LiveTable{
			Name:    t.Name,
			Columns: append([]LiveColumn(nil), t.Columns...),
			Indexes: append([]LiveIndex(nil), t.Indexes...),
			Options: make(map[string]string, len(t.Options)),
		}
		for k, v := range t.Options {
			c.Options[k] = v
		}
		out.Tables[name] = c
	}
	for name, t := range s.Types {
		out.Types[name] = &LiveType{Name: t.Name, Fields: append([]LiveField(nil), t.Fields...)}
	}
	return out
}

var varcharPattern = regexp.MustCompile(`\bvarchar\b`)

// NormalizeType 规范化 CQL 类型文本，varchar 视为 text
func NormalizeType(s string) string {
	t, err := types.ParseType(s, nil)
	if err == nil {
		s = t.String()
	} else {
		s = cql.OneLine(strings.ToLower(s))
	}
	return varcharPattern.ReplaceAllString(s, "text")
}

func sameType(a, b string) bool {
	return NormalizeType(a) == NormalizeType(b)
}
