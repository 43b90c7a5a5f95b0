package migrate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hatlonely/cqlx/cql/builder"
	"github.com/hatlonely/cqlx/cql/schema"
)

// OpKind schema 变更操作类别
type OpKind string

const (
	OpAddType      OpKind = "add-type"
	OpAddTypeField OpKind = "add-type-field"
	OpAddTable     OpKind = "add-table"
	OpAddColumn    OpKind = "add-column"
	OpAddIndex     OpKind = "add-index"
	OpAlterOptions OpKind = "alter-options"
)

// Operation 一条可以直接执行的 schema 变更
type Operation struct {
	Kind      OpKind
	Keyspace  string
	Table     string
	Name      string // 类型、列、索引名，alter-options 时为空
	Statement builder.Statement

	apply func(*Snapshot)
}

func (o Operation) String() string {
	return fmt.Sprintf("%s %s", o.Kind, o.Statement)
}

// ChangeKind 需要人工处理的差异类别
type ChangeKind string

const (
	ChangeExtraColumn     ChangeKind = "extra-column"
	ChangeColumnType      ChangeKind = "column-type"
	ChangeColumnKind      ChangeKind = "column-kind"
	ChangePartitionKey    ChangeKind = "partition-key"
	ChangeClusteringKey   ChangeKind = "clustering-key"
	ChangeTypeField       ChangeKind = "type-field"
	ChangeExtraTypeField  ChangeKind = "extra-type-field"
	ChangeExtraIndex      ChangeKind = "extra-index"
)

// DestructiveChangeRequired 无法通过增量语句收敛的差异，只报告不处理
type DestructiveChangeRequired struct {
	Kind     ChangeKind
	Keyspace string
	Table    string
	Type     string // UDT 差异时的类型名
	Column   string
	Declared string
	Live     string
}

func (d DestructiveChangeRequired) String() string {
	target := d.Table
	if d.Type != "" {
		target = "type " + d.Type
	}
	if d.Column != "" {
		target += "." + d.Column
	}
	msg := fmt.Sprintf("destructive change required [%s] on %s", d.Kind, target)
	if d.Declared != "" || d.Live != "" {
		msg += fmt.Sprintf(": declared %q, live %q", d.Declared, d.Live)
	}
	return msg
}

// SchemaDiff 有序的变更操作与诊断信息
type SchemaDiff struct {
	Operations  []Operation
	Diagnostics []DestructiveChangeRequired
}

// Empty 没有需要执行的操作
func (d *SchemaDiff) Empty() bool {
	return d == nil || len(d.Operations) == 0
}

// Statements 按执行顺序返回语句
func (d *SchemaDiff) Statements() []builder.Statement {
	if d == nil {
		return nil
	}
	stmts := make([]builder.Statement, 0, len(d.Operations))
	for _, op := range d.Operations {
		stmts = append(stmts, op.Statement)
	}
	return stmts
}

// merge 追加另一个 diff，相同的诊断只保留一条
func (d *SchemaDiff) merge(other *SchemaDiff) {
	d.Operations = append(d.Operations, other.Operations...)
	seen := make(map[DestructiveChangeRequired]bool, len(d.Diagnostics))
	for _, diag := range d.Diagnostics {
		seen[diag] = true
	}
	for _, diag := range other.Diagnostics {
		if !seen[diag] {
			seen[diag] = true
			d.Diagnostics = append(d.Diagnostics, diag)
		}
	}
}

// Diff 计算使 live 收敛到 declared 所需的变更
// live 为 nil 或不包含该表时生成建表语句；对同一结果再次 Diff 得到空结果
func Diff(declared *schema.Schema, live *Snapshot) *SchemaDiff {
	return DiffAll([]*schema.Schema{declared}, live)
}

// DiffAll 对多个表计算变更，共享的 UDT 只创建一次
func DiffAll(declared []*schema.Schema, live *Snapshot) *SchemaDiff {
	d := &SchemaDiff{}
	current := live.clone()
	for _, s := range declared {
		next := diffTable(s, current)
		d.merge(next)
		current = current.Apply(next)
	}
	return d
}

func diffTable(s *schema.Schema, live *Snapshot) *SchemaDiff {
	d := &SchemaDiff{}
	diffTypes(d, s, live)

	t, ok := live.Table(s.Table())
	if !ok {
		createTable(d, s)
		return d
	}

	diffKey(d, s, t)
	diffColumns(d, s, t)
	diffIndexes(d, s, t)
	diffOptions(d, s, t)
	return d
}

func diffTypes(d *SchemaDiff, s *schema.Schema, live *Snapshot) {
	for _, ut := range s.UserTypes() {
		lt, ok := live.Type(ut.Name)
		if !ok {
			d.Operations = append(d.Operations, Operation{
				Kind:      OpAddType,
				Keyspace:  s.Keyspace(),
				Name:      ut.Name,
				Statement: builder.CreateType(s.Keyspace(), ut),
				apply: func(snap *Snapshot) {
					snap.Types[ut.Name] = liveType(ut)
				},
			})
			continue
		}

		declared := map[string]bool{}
		for _, f := range ut.Fields {
			declared[f.Name] = true
			lf, ok := lt.Field(f.Name)
			if !ok {
				d.Operations = append(d.Operations, Operation{
					Kind:      OpAddTypeField,
					Keyspace:  s.Keyspace(),
					Name:      ut.Name + "." + f.Name,
					Statement: builder.AlterTypeAdd(s.Keyspace(), ut.Name, f),
					apply: func(snap *Snapshot) {
						if t, ok := snap.Types[ut.Name]; ok {
							t.Fields = append(t.Fields, LiveField{Name: f.Name, Type: f.Type.String()})
						}
					},
				})
				continue
			}
			if !sameType(f.Type.String(), lf.Type) {
				d.Diagnostics = append(d.Diagnostics, DestructiveChangeRequired{
					Kind: ChangeTypeField, Keyspace: s.Keyspace(), Type: ut.Name, Column: f.Name,
					Declared: f.Type.String(), Live: lf.Type,
				})
			}
		}
		for _, lf := range lt.Fields {
			if !declared[lf.Name] {
				d.Diagnostics = append(d.Diagnostics, DestructiveChangeRequired{
					Kind: ChangeExtraTypeField, Keyspace: s.Keyspace(), Type: ut.Name, Column: lf.Name, Live: lf.Type,
				})
			}
		}
	}
}

func createTable(d *SchemaDiff, s *schema.Schema) {
	d.Operations = append(d.Operations, Operation{
		Kind:      OpAddTable,
		Keyspace:  s.Keyspace(),
		Table:     s.Table(),
		Name:      s.Table(),
		Statement: builder.CreateTable(s),
		apply: func(snap *Snapshot) {
			t := liveTable(s)
			t.Indexes = nil
			snap.Tables[s.Table()] = t
		},
	})
	for _, idx := range s.Indexes() {
		addIndex(d, s, idx)
	}
}

func addIndex(d *SchemaDiff, s *schema.Schema, idx schema.Index) {
	d.Operations = append(d.Operations, Operation{
		Kind:      OpAddIndex,
		Keyspace:  s.Keyspace(),
		Table:     s.Table(),
		Name:      idx.Name,
		Statement: builder.IndexStatement(s, idx),
		apply: func(snap *Snapshot) {
			if t, ok := snap.Tables[s.Table()]; ok {
				t.Indexes = append(t.Indexes, liveIndex(s, idx))
			}
		},
	})
}

func diffKey(d *SchemaDiff, s *schema.Schema, t *LiveTable) {
	declared := strings.Join(s.PartitionKey(), ", ")
	if live := strings.Join(t.PartitionKey(), ", "); declared != live {
		d.Diagnostics = append(d.Diagnostics, DestructiveChangeRequired{
			Kind: ChangePartitionKey, Keyspace: s.Keyspace(), Table: s.Table(), Declared: declared, Live: live,
		})
	}
	if declared, live := clusteringText(s.Clustering()), clusteringText(t.Clustering()); declared != live {
		d.Diagnostics = append(d.Diagnostics, DestructiveChangeRequired{
			Kind: ChangeClusteringKey, Keyspace: s.Keyspace(), Table: s.Table(), Declared: declared, Live: live,
		})
	}
}

func clusteringText(columns []schema.ClusteringColumn) string {
	parts := make([]string, 0, len(columns))
	for _, c := range columns {
		parts = append(parts, c.Name+" "+string(c.Order))
	}
	return strings.Join(parts, ", ")
}

func diffColumns(d *SchemaDiff, s *schema.Schema, t *LiveTable) {
	declared := map[string]bool{}
	for _, c := range s.Columns() {
		declared[c.Name] = true
		kind := s.KindOf(c.Name)
		lc, ok := t.Column(c.Name)
		if !ok {
			if isKey(s, c.Name) {
				// 主键差异已经在 diffKey 中报告
				continue
			}
			stmt, err := builder.AlterTableAdd(s, c.Name)
			if err != nil {
				continue
			}
			d.Operations = append(d.Operations, Operation{
				Kind:      OpAddColumn,
				Keyspace:  s.Keyspace(),
				Table:     s.Table(),
				Name:      c.Name,
				Statement: stmt,
				apply: func(snap *Snapshot) {
					if t, ok := snap.Tables[s.Table()]; ok {
						t.Columns = append(t.Columns, liveColumn(s, c))
					}
				},
			})
			continue
		}
		if !sameType(c.Type.String(), lc.Type) {
			d.Diagnostics = append(d.Diagnostics, DestructiveChangeRequired{
				Kind: ChangeColumnType, Keyspace: s.Keyspace(), Table: s.Table(), Column: c.Name,
				Declared: c.Type.String(), Live: lc.Type,
			})
		}
		if (kind == schema.KindStatic) != (lc.Kind == schema.KindStatic) {
			d.Diagnostics = append(d.Diagnostics, DestructiveChangeRequired{
				Kind: ChangeColumnKind, Keyspace: s.Keyspace(), Table: s.Table(), Column: c.Name,
				Declared: string(kind), Live: string(lc.Kind),
			})
		}
	}
	for _, lc := range t.Columns {
		if !declared[lc.Name] {
			d.Diagnostics = append(d.Diagnostics, DestructiveChangeRequired{
				Kind: ChangeExtraColumn, Keyspace: s.Keyspace(), Table: s.Table(), Column: lc.Name, Live: lc.Type,
			})
		}
	}
}

func diffIndexes(d *SchemaDiff, s *schema.Schema, t *LiveTable) {
	matched := make([]bool, len(t.Indexes))
	for _, idx := range s.Indexes() {
		target := effectiveTarget(s, idx.Column, idx.Target)
		found := false
		for i, li := range t.Indexes {
			if li.Column == idx.Column && li.Target == target {
				matched[i] = true
				found = true
			}
		}
		if !found {
			// 缺失的主键列无法补建，索引也无从建立
			if _, ok := t.Column(idx.Column); ok || !isKey(s, idx.Column) {
				addIndex(d, s, idx)
			}
		}
	}
	for i, li := range t.Indexes {
		if !matched[i] {
			d.Diagnostics = append(d.Diagnostics, DestructiveChangeRequired{
				Kind: ChangeExtraIndex, Keyspace: s.Keyspace(), Table: s.Table(), Column: li.Column, Live: li.Name,
			})
		}
	}
}

func isKey(s *schema.Schema, column string) bool {
	kind := s.KindOf(column)
	return kind == schema.KindPartitionKey || kind == schema.KindClustering
}

func diffOptions(d *SchemaDiff, s *schema.Schema, t *LiveTable) {
	var changed []builder.TableOption
	for _, opt := range builder.TableOptions(s) {
		if live, ok := t.Options[opt.Name]; ok && SameOption(opt.Value, live) {
			continue
		}
		changed = append(changed, opt)
	}
	if len(changed) == 0 {
		return
	}
	d.Operations = append(d.Operations, Operation{
		Kind:      OpAlterOptions,
		Keyspace:  s.Keyspace(),
		Table:     s.Table(),
		Statement: builder.AlterTableOptions(s, changed),
		apply: func(snap *Snapshot) {
			if t, ok := snap.Tables[s.Table()]; ok {
				if t.Options == nil {
					t.Options = map[string]string{}
				}
				for _, opt := range changed {
					t.Options[opt.Name] = opt.Value
				}
			}
		},
	})
}

// SameOption 比较声明的选项字面量与实时值
// map 选项只比较声明的键；类名允许省略包名，如 LeveledCompactionStrategy
func SameOption(declared, live string) bool {
	dm, dok := parseOptionMap(declared)
	lm, lok := parseOptionMap(live)
	if dok && lok {
		for k, dv := range dm {
			lv, ok := lm[k]
			if !ok || !sameScalar(dv, lv) {
				return false
			}
		}
		return true
	}
	if dok != lok {
		return false
	}
	return sameScalar(declared, live)
}

func sameScalar(declared, live string) bool {
	d, l := unquote(declared), unquote(live)
	if d == l {
		return true
	}
	if strings.HasSuffix(l, "."+d) {
		return true
	}
	df, derr := strconv.ParseFloat(d, 64)
	lf, lerr := strconv.ParseFloat(l, 64)
	return derr == nil && lerr == nil && df == lf
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		s = strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	}
	return s
}

// parseOptionMap 解析 {'k': 'v', ...} 形式的选项字面量
func parseOptionMap(s string) (map[string]string, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return nil, false
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	out := map[string]string{}
	for body != "" {
		key, rest, ok := optionToken(body)
		if !ok {
			return nil, false
		}
		rest = strings.TrimSpace(rest)
		if !strings.HasPrefix(rest, ":") {
			return nil, false
		}
		value, rest, ok := optionToken(strings.TrimSpace(rest[1:]))
		if !ok {
			return nil, false
		}
		out[unquote(key)] = value
		rest = strings.TrimSpace(rest)
		rest = strings.TrimPrefix(rest, ",")
		body = strings.TrimSpace(rest)
	}
	return out, true
}

// optionToken 读取一个单引号字符串或不含分隔符的裸值
func optionToken(s string) (string, string, bool) {
	if s == "" {
		return "", "", false
	}
	if s[0] != '\'' {
		end := strings.IndexAny(s, ":,")
		if end < 0 {
			end = len(s)
		}
		return strings.TrimSpace(s[:end]), s[end:], true
	}
	for i := 1; i < len(s); i++ {
		if s[i] != '\'' {
			continue
		}
		if i+1 < len(s) && s[i+1] == '\'' {
			i++
			continue
		}
		return s[:i+1], s[i+1:], true
	}
	return "", "", false
}

// RenderOptionValue 将 system_schema 中的选项值渲染为 CQL 字面量
func RenderOptionValue(v any) string {
	switch x := v.(type) {
	case string:
		return builder.StringLiteral(x)
	case map[string]string:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, builder.StringLiteral(k)+": "+builder.StringLiteral(x[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case nil:
		return "null"
	default:
		return fmt.Sprint(x)
	}
}
