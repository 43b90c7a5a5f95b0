package schema

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"sort"
	"strings"

	"github.com/hatlonely/cqlx/cql"
	"github.com/hatlonely/cqlx/cql/types"
)

// ClusteringOrder 聚簇列排序方向
type ClusteringOrder string

const (
	Asc  ClusteringOrder = "ASC"
	Desc ClusteringOrder = "DESC"
)

// Reverse 返回相反的排序方向
func (o ClusteringOrder) Reverse() ClusteringOrder {
	if o == Desc {
		return Asc
	}
	return Desc
}

// ColumnKind 列在主键中的角色，取值与 system_schema.columns.kind 一致
type ColumnKind string

const (
	KindPartitionKey ColumnKind = "partition_key"
	KindClustering   ColumnKind = "clustering"
	KindRegular      ColumnKind = "regular"
	KindStatic       ColumnKind = "static"
)

// Column 列定义
type Column struct {
	Name        string
	Type        types.Type
	Required    bool
	Default     any             // 静态默认值，Build 时转换为规范形式
	DefaultFunc types.Generator // 每次写入时生成默认值，与 Default 二选一
	Indexed     bool
	Static      bool
}

// EffectiveTarget 存储实际使用的索引目标：非冻结集合默认是 values，冻结集合默认是 full
func (c Column) EffectiveTarget(target IndexTarget) IndexTarget {
	if target != TargetDefault || !c.Type.IsCollection() {
		return target
	}
	if c.Type.MultiCell() {
		return TargetValues
	}
	return TargetFull
}

// HasDefault 是否声明了默认值或生成器
func (c Column) HasDefault() bool {
	return c.Default != nil || c.DefaultFunc != nil
}

// ClusteringColumn 聚簇列及其排序方向
type ClusteringColumn struct {
	Name  string
	Order ClusteringOrder
}

// KeySpec 主键定义：有序分区键与有序聚簇键
type KeySpec struct {
	Partition  []string
	Clustering []ClusteringColumn
}

// PartitionKey 以分区键构造 KeySpec
func PartitionKey(columns ...string) KeySpec {
	return KeySpec{Partition: columns}
}

// ClusterBy 追加一个聚簇列，返回新的 KeySpec
func (k KeySpec) ClusterBy(column string, order ClusteringOrder) KeySpec {
	k.Partition = append([]string(nil), k.Partition...)
	k.Clustering = append(append([]ClusteringColumn(nil), k.Clustering...), ClusteringColumn{Name: column, Order: order})
	return k
}

// Columns 返回主键包含的所有列，分区键在前
func (k KeySpec) Columns() []string {
	out := append([]string(nil), k.Partition...)
	for _, c := range k.Clustering {
		out = append(out, c.Name)
	}
	return out
}

func (k KeySpec) clone() KeySpec {
	return KeySpec{
		Partition:  append([]string(nil), k.Partition...),
		Clustering: append([]ClusteringColumn(nil), k.Clustering...),
	}
}

// IndexTarget 集合列的索引目标
type IndexTarget string

const (
	TargetDefault IndexTarget = ""
	TargetKeys    IndexTarget = "keys"
	TargetValues  IndexTarget = "values"
	TargetEntries IndexTarget = "entries"
	TargetFull    IndexTarget = "full"
)

// Index 二级索引，Name 为空时使用 IndexName 生成
type Index struct {
	Name   string
	Column string
	Target IndexTarget
}

// Options 表级选项
type Options struct {
	Keyspace   string
	DefaultTTL int               // 秒，0 表示不过期
	Comment    string
	Extra      map[string]string // 其他表选项，值按 CQL 字面量原样输出
}

type Option func(*Options)

func WithKeyspace(keyspace string) Option {
	return func(o *Options) {
		o.Keyspace = keyspace
	}
}

func WithDefaultTTL(seconds int) Option {
	return func(o *Options) {
		o.DefaultTTL = seconds
	}
}

func WithComment(comment string) Option {
	return func(o *Options) {
		o.Comment = comment
	}
}

// WithTableOption 设置其他表选项，如 gc_grace_seconds
func WithTableOption(name, value string) Option {
	return func(o *Options) {
		if o.Extra == nil {
			o.Extra = map[string]string{}
		}
		o.Extra[name] = value
	}
}

// Schema 单表模型，构造后不可修改，访问器均返回副本
type Schema struct {
	table     string
	columns   []Column
	positions map[string]int
	key       KeySpec
	indexes   []Index
	options   Options
	userTypes []*types.UserType
}

func (s *Schema) Keyspace() string {
	return s.options.Keyspace
}

func (s *Schema) Table() string {
	return s.table
}

// QualifiedTable 返回带 keyspace 的表名
func (s *Schema) QualifiedTable() string {
	return cql.QualifiedTable(s.options.Keyspace, s.table)
}

// Columns 按声明顺序返回所有列
func (s *Schema) Columns() []Column {
	return append([]Column(nil), s.columns...)
}

// ColumnNames 按声明顺序返回所有列名
func (s *Schema) ColumnNames() []string {
	names := make([]string, 0, len(s.columns))
	for _, c := range s.columns {
		names = append(names, c.Name)
	}
	return names
}

func (s *Schema) Column(name string) (Column, bool) {
	i, ok := s.positions[name]
	if !ok {
		return Column{}, false
	}
	return s.columns[i], true
}

// Position 返回列的声明位置，不存在时返回 -1
func (s *Schema) Position(name string) int {
	if i, ok := s.positions[name]; ok {
		return i
	}
	return -1
}

func (s *Schema) Key() KeySpec {
	return s.key.clone()
}

func (s *Schema) PartitionKey() []string {
	return append([]string(nil), s.key.Partition...)
}

func (s *Schema) Clustering() []ClusteringColumn {
	return append([]ClusteringColumn(nil), s.key.Clustering...)
}

// PrimaryKey 返回分区键加聚簇键
func (s *Schema) PrimaryKey() []string {
	return s.key.Columns()
}

func (s *Schema) Indexes() []Index {
	return append([]Index(nil), s.indexes...)
}

func (s *Schema) Options() Options {
	o := s.options
	if s.options.Extra != nil {
		o.Extra = make(map[string]string, len(s.options.Extra))
		for k, v := range s.options.Extra {
			o.Extra[k] = v
		}
	}
	return o
}

// UserTypes 返回列引用的所有 UDT，被依赖的类型在前
func (s *Schema) UserTypes() []*types.UserType {
	return append([]*types.UserType(nil), s.userTypes...)
}

// KindOf 返回列的角色，列不存在时返回空串
func (s *Schema) KindOf(name string) ColumnKind {
	i, ok := s.positions[name]
	if !ok {
		return ""
	}
	for _, p := range s.key.Partition {
		if p == name {
			return KindPartitionKey
		}
	}
	for _, c := range s.key.Clustering {
		if c.Name == name {
			return KindClustering
		}
	}
	if s.columns[i].Static {
		return KindStatic
	}
	return KindRegular
}

// PartitionPosition 返回列在分区键中的位置，不是分区列时返回 -1
func (s *Schema) PartitionPosition(name string) int {
	for i, p := range s.key.Partition {
		if p == name {
			return i
		}
	}
	return -1
}

// ClusteringPosition 返回列在聚簇键中的位置，不是聚簇列时返回 -1
func (s *Schema) ClusteringPosition(name string) int {
	for i, c := range s.key.Clustering {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// IsIndexed 列上是否有二级索引
func (s *Schema) IsIndexed(name string) bool {
	for _, idx := range s.indexes {
		if idx.Column == name {
			return true
		}
	}
	return false
}

var indexNameSanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

// IndexName 返回默认索引名 <table>_<column>_idx
// 表名或列名含大写及其他非法字符时，在 _idx 前追加原始名的 fnv 哈希
func IndexName(table, column string) string {
	raw := table + "_" + column
	name := indexNameSanitizer.ReplaceAllString(strings.ToLower(raw), "_")
	if name != raw {
		h := fnv.New32a()
		h.Write([]byte(raw))
		name = fmt.Sprintf("%s_%08x", name, h.Sum32())
	}
	return name + "_idx"
}

// Build 校验并构造 Schema，违反任一规则时返回 *cql.SchemaDefinitionError
func Build(table string, columns []Column, key KeySpec, indexes []Index, opts ...Option) (*Schema, error) {
	var options Options
	for _, opt := range opts {
		opt(&options)
	}
	fail := func(column, rule, format string, args ...any) error {
		return &cql.SchemaDefinitionError{Table: table, Column: column, Rule: rule, Detail: fmt.Sprintf(format, args...)}
	}

	if strings.TrimSpace(table) == "" {
		return nil, fail("", cql.RuleTableName, "table name is required")
	}
	if len(columns) == 0 {
		return nil, fail("", cql.RuleNoColumns, "at least one column is required")
	}
	if options.DefaultTTL < 0 {
		return nil, fail("", cql.RuleTableOption, "default ttl must not be negative")
	}

	s := &Schema{
		table:     table,
		columns:   make([]Column, len(columns)),
		positions: make(map[string]int, len(columns)),
		key:       key.clone(),
		options:   options,
	}
	copy(s.columns, columns)
	if options.Extra != nil {
		s.options.Extra = make(map[string]string, len(options.Extra))
		for k, v := range options.Extra {
			s.options.Extra[k] = v
		}
	}

	for i, c := range s.columns {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fail("", cql.RuleColumnName, "column %d has no name", i)
		}
		if _, ok := s.positions[c.Name]; ok {
			return nil, fail(c.Name, cql.RuleDuplicateColumn, "column %s is declared more than once", c.Name)
		}
		s.positions[c.Name] = i
		if err := c.Type.Validate(); err != nil {
			rule := cql.RuleColumnType
			if c.Type.Kind == types.KindUDT || len(c.Type.UserTypes()) > 0 {
				rule = cql.RuleUserType
			}
			return nil, fail(c.Name, rule, "%s", err.Error())
		}
	}

	if err := s.checkUserTypes(); err != nil {
		return nil, err
	}
	if err := s.checkKey(); err != nil {
		return nil, err
	}
	if err := s.checkStatic(); err != nil {
		return nil, err
	}
	if err := s.checkDefaults(); err != nil {
		return nil, err
	}

	// 主键列隐式必填
	for _, name := range s.key.Columns() {
		s.columns[s.positions[name]].Required = true
	}

	if err := s.collectIndexes(indexes); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Schema) checkUserTypes() error {
	byName := map[string]*types.UserType{}
	var all []*types.UserType
	for _, c := range s.columns {
		for _, ut := range c.Type.UserTypes() {
			existing, ok := byName[ut.Name]
			if !ok {
				byName[ut.Name] = ut
				all = append(all, ut)
				continue
			}
			if !sameFields(existing, ut) {
				return &cql.SchemaDefinitionError{Table: s.table, Column: c.Name, Rule: cql.RuleUserType, Detail: fmt.Sprintf("conflicting definitions of user type %s", ut.Name)}
			}
		}
	}
	s.userTypes = all
	return nil
}

func sameFields(a, b *types.UserType) bool {
	if a == b {
		return true
	}
	if len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		if a.Fields[i].Name != b.Fields[i].Name || !a.Fields[i].Type.Equal(b.Fields[i].Type) {
			return false
		}
	}
	return true
}

func (s *Schema) checkKey() error {
	fail := func(column, rule, format string, args ...any) error {
		return &cql.SchemaDefinitionError{Table: s.table, Column: column, Rule: rule, Detail: fmt.Sprintf(format, args...)}
	}
	if len(s.key.Partition) == 0 {
		return fail("", cql.RulePartitionKeyRequired, "partition key must name at least one column")
	}

	seen := map[string]string{}
	check := func(name, role string) error {
		if _, ok := s.positions[name]; !ok {
			return fail(name, cql.RuleUnknownKeyColumn, "%s key column %s is not declared", role, name)
		}
		if prev, ok := seen[name]; ok {
			if prev == role {
				return fail(name, cql.RuleDuplicateKeyColumn, "column %s appears twice in the %s key", name, role)
			}
			return fail(name, cql.RuleKeyOverlap, "column %s is both a partition and a clustering column", name)
		}
		seen[name] = role
		if s.columns[s.positions[name]].Type.MultiCell() {
			return fail(name, cql.RuleCollectionKey, "non-frozen collection column %s cannot be part of the primary key", name)
		}
		return nil
	}
	for _, name := range s.key.Partition {
		if err := check(name, "partition"); err != nil {
			return err
		}
	}
	for i, c := range s.key.Clustering {
		if err := check(c.Name, "clustering"); err != nil {
			return err
		}
		switch c.Order {
		case "":
			s.key.Clustering[i].Order = Asc
		case Asc, Desc:
		default:
			return fail(c.Name, cql.RuleClusteringOrder, "unknown clustering order %q", c.Order)
		}
	}
	return nil
}

func (s *Schema) checkStatic() error {
	for _, c := range s.columns {
		if !c.Static {
			continue
		}
		if len(s.key.Clustering) == 0 {
			return &cql.SchemaDefinitionError{Table: s.table, Column: c.Name, Rule: cql.RuleStaticColumn, Detail: "static columns require at least one clustering column"}
		}
		if s.KindOf(c.Name) != KindStatic {
			return &cql.SchemaDefinitionError{Table: s.table, Column: c.Name, Rule: cql.RuleStaticColumn, Detail: "primary key columns cannot be static"}
		}
	}
	return nil
}

func (s *Schema) checkDefaults() error {
	for i, c := range s.columns {
		if c.Default != nil && c.DefaultFunc != nil {
			return &cql.SchemaDefinitionError{Table: s.table, Column: c.Name, Rule: cql.RuleDefaultType, Detail: "column declares both a default value and a default generator"}
		}
		if c.DefaultFunc != nil {
			if _, err := canonical(c.Type, c.DefaultFunc()); err != nil {
				return &cql.SchemaDefinitionError{Table: s.table, Column: c.Name, Rule: cql.RuleDefaultType, Detail: "default generator: " + err.Error()}
			}
			continue
		}
		if c.Default == nil {
			continue
		}
		v, err := canonical(c.Type, c.Default)
		if err != nil {
			return &cql.SchemaDefinitionError{Table: s.table, Column: c.Name, Rule: cql.RuleDefaultType, Detail: err.Error()}
		}
		s.columns[i].Default = v
	}
	return nil
}

func (s *Schema) collectIndexes(indexes []Index) error {
	all := make([]Index, 0, len(indexes))
	for _, c := range s.columns {
		if c.Indexed {
			all = append(all, Index{Column: c.Name})
		}
	}
	all = append(all, indexes...)

	seen := map[string]bool{}
	names := map[string]string{}
	for _, idx := range all {
		c, ok := s.Column(idx.Column)
		if !ok {
			return &cql.SchemaDefinitionError{Table: s.table, Column: idx.Column, Rule: cql.RuleUnknownIndexColumn, Detail: fmt.Sprintf("index column %s is not declared", idx.Column)}
		}
		if len(s.key.Partition) == 1 && s.key.Partition[0] == idx.Column {
			return &cql.SchemaDefinitionError{Table: s.table, Column: idx.Column, Rule: cql.RuleSolePartitionIndex, Detail: "the sole partition key column cannot be indexed"}
		}
		if err := checkIndexTarget(c, idx.Target); err != nil {
			return &cql.SchemaDefinitionError{Table: s.table, Column: idx.Column, Rule: cql.RuleCollectionIndex, Detail: err.Error()}
		}
		if idx.Name == "" {
			idx.Name = IndexName(s.table, idx.Column)
			if idx.Target != TargetDefault && idx.Target != TargetValues {
				idx.Name = IndexName(s.table, idx.Column+"_"+string(idx.Target))
			}
		}
		key := idx.Column + "/" + string(c.EffectiveTarget(idx.Target))
		if seen[key] {
			continue
		}
		seen[key] = true
		if names[idx.Name] != "" {
			return &cql.SchemaDefinitionError{Table: s.table, Column: idx.Column, Rule: cql.RuleDuplicateIndex, Detail: fmt.Sprintf("index name %s is already used by column %s", idx.Name, names[idx.Name])}
		}
		names[idx.Name] = idx.Column
		s.columns[s.positions[idx.Column]].Indexed = true
		s.indexes = append(s.indexes, idx)
	}
	sort.SliceStable(s.indexes, func(i, j int) bool {
		return s.positions[s.indexes[i].Column] < s.positions[s.indexes[j].Column]
	})
	return nil
}

func checkIndexTarget(c Column, target IndexTarget) error {
	switch target {
	case TargetDefault:
		return nil
	case TargetValues:
		if !c.Type.MultiCell() {
			return fmt.Errorf("values() index requires a non-frozen collection")
		}
	case TargetKeys, TargetEntries:
		if c.Type.Kind != types.KindMap || !c.Type.MultiCell() {
			return fmt.Errorf("%s() index requires a non-frozen map", target)
		}
	case TargetFull:
		if !c.Type.IsCollection() || c.Type.MultiCell() {
			return fmt.Errorf("full() index requires a frozen collection")
		}
	default:
		return fmt.Errorf("unknown index target %q", target)
	}
	return nil
}

// canonical 返回值的规范 Go 形式，每次调用都生成新的副本
func canonical(t types.Type, v any) (any, error) {
	stored, err := types.ToStore(t, v)
	if err != nil {
		return nil, err
	}
	return types.FromStore(t, stored)
}
