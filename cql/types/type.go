package types

import (
	"fmt"
	"strings"
)

// Kind 列类型种类
type Kind string

const (
	KindASCII     Kind = "ascii"
	KindText      Kind = "text"
	KindVarchar   Kind = "varchar"
	KindTinyint   Kind = "tinyint"
	KindSmallint  Kind = "smallint"
	KindInt       Kind = "int"
	KindBigint    Kind = "bigint"
	KindFloat     Kind = "float"
	KindDouble    Kind = "double"
	KindBoolean   Kind = "boolean"
	KindTimestamp Kind = "timestamp"
	KindDate      Kind = "date"
	KindUUID      Kind = "uuid"
	KindTimeUUID  Kind = "timeuuid"
	KindBlob      Kind = "blob"
	KindList      Kind = "list"
	KindSet       Kind = "set"
	KindMap       Kind = "map"
	KindUDT       Kind = "udt"
)

var scalarKinds = map[string]Kind{
	"ascii":     KindASCII,
	"text":      KindText,
	"varchar":   KindVarchar,
	"tinyint":   KindTinyint,
	"smallint":  KindSmallint,
	"int":       KindInt,
	"bigint":    KindBigint,
	"float":     KindFloat,
	"double":    KindDouble,
	"boolean":   KindBoolean,
	"timestamp": KindTimestamp,
	"date":      KindDate,
	"uuid":      KindUUID,
	"timeuuid":  KindTimeUUID,
	"blob":      KindBlob,
}

// Type 列的声明类型
// 集合类型通过 Elem/Key 递归描述，UDT 通过 UDT 描述
type Type struct {
	Kind   Kind
	Elem   *Type // list/set 的元素类型，map 的值类型
	Key    *Type // map 的键类型
	UDT    *UserType
	Frozen bool
}

// UserType 用户自定义复合类型
type UserType struct {
	Name   string
	Fields []Field
}

// Field UDT 子字段
type Field struct {
	Name string
	Type Type
}

var (
	ASCII     = Type{Kind: KindASCII}
	Text      = Type{Kind: KindText}
	Varchar   = Type{Kind: KindVarchar}
	Tinyint   = Type{Kind: KindTinyint}
	Smallint  = Type{Kind: KindSmallint}
	Int       = Type{Kind: KindInt}
	Bigint    = Type{Kind: KindBigint}
	Float     = Type{Kind: KindFloat}
	Double    = Type{Kind: KindDouble}
	Boolean   = Type{Kind: KindBoolean}
	Timestamp = Type{Kind: KindTimestamp}
	Date      = Type{Kind: KindDate}
	UUID      = Type{Kind: KindUUID}
	TimeUUID  = Type{Kind: KindTimeUUID}
	Blob      = Type{Kind: KindBlob}
)

func ListOf(elem Type) Type {
	return Type{Kind: KindList, Elem: &elem}
}

func SetOf(elem Type) Type {
	return Type{Kind: KindSet, Elem: &elem}
}

func MapOf(key, value Type) Type {
	return Type{Kind: KindMap, Key: &key, Elem: &value}
}

func UDTOf(ut *UserType) Type {
	return Type{Kind: KindUDT, UDT: ut}
}

// FrozenOf 返回冻结后的类型，冻结的集合可以作为主键列
func FrozenOf(t Type) Type {
	t.Frozen = true
	return t
}

// IsCollection 是否为 list/set/map
func (t Type) IsCollection() bool {
	return t.Kind == KindList || t.Kind == KindSet || t.Kind == KindMap
}

// IsScalar 是否为标量类型
func (t Type) IsScalar() bool {
	_, ok := scalarKinds[string(t.Kind)]
	return ok
}

// MultiCell 非冻结集合，按元素存储，不能作为主键也不能做范围比较
func (t Type) MultiCell() bool {
	return t.IsCollection() && !t.Frozen
}

// String 返回 CQL 类型文本
// 集合内部的集合与 UDT 总是 frozen，顶层 UDT 列也按 frozen 声明
func (t Type) String() string {
	return t.render(false)
}

func (t Type) render(nested bool) string {
	var s string
	switch t.Kind {
	case KindList, KindSet:
		s = fmt.Sprintf("%s<%s>", t.Kind, t.elem().render(true))
	case KindMap:
		s = fmt.Sprintf("map<%s, %s>", t.key().render(true), t.elem().render(true))
	case KindUDT:
		name := "<anonymous>"
		if t.UDT != nil {
			name = t.UDT.Name
		}
		return "frozen<" + name + ">"
	default:
		return string(t.Kind)
	}
	if t.Frozen || nested {
		return "frozen<" + s + ">"
	}
	return s
}

func (t Type) elem() Type {
	if t.Elem == nil {
		return Type{Kind: "?"}
	}
	return *t.Elem
}

func (t Type) key() Type {
	if t.Key == nil {
		return Type{Kind: "?"}
	}
	return *t.Key
}

// Validate 检查类型描述是否完整
func (t Type) Validate() error {
	switch t.Kind {
	case KindList, KindSet:
		if t.Elem == nil {
			return fmt.Errorf("%s requires an element type", t.Kind)
		}
		return t.Elem.Validate()
	case KindMap:
		if t.Key == nil || t.Elem == nil {
			return fmt.Errorf("map requires key and value types")
		}
		if err := t.Key.Validate(); err != nil {
			return err
		}
		return t.Elem.Validate()
	case KindUDT:
		return t.UDT.Validate()
	default:
		if !t.IsScalar() {
			return fmt.Errorf("unknown type kind %q", t.Kind)
		}
		return nil
	}
}

// Validate 检查 UDT 定义：名称非空、至少一个字段、字段名唯一
func (u *UserType) Validate() error {
	if u == nil {
		return fmt.Errorf("user type definition is missing")
	}
	if u.Name == "" {
		return fmt.Errorf("user type requires a name")
	}
	if len(u.Fields) == 0 {
		return fmt.Errorf("user type %s has no fields", u.Name)
	}
	seen := map[string]bool{}
	for _, f := range u.Fields {
		if f.Name == "" {
			return fmt.Errorf("user type %s has a field without name", u.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("user type %s has duplicate field %s", u.Name, f.Name)
		}
		seen[f.Name] = true
		if err := f.Type.Validate(); err != nil {
			return fmt.Errorf("user type %s field %s: %w", u.Name, f.Name, err)
		}
	}
	return nil
}

// Field 按名称查找子字段
func (u *UserType) Field(name string) (Field, bool) {
	for _, f := range u.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// UserTypes 收集类型中引用的全部 UDT，被依赖的类型排在前面
func (t Type) UserTypes() []*UserType {
	var out []*UserType
	seen := map[string]bool{}
	var walk func(Type)
	walk = func(t Type) {
		switch t.Kind {
		case KindList, KindSet:
			if t.Elem != nil {
				walk(*t.Elem)
			}
		case KindMap:
			if t.Key != nil {
				walk(*t.Key)
			}
			if t.Elem != nil {
				walk(*t.Elem)
			}
		case KindUDT:
			if t.UDT == nil || seen[t.UDT.Name] {
				return
			}
			for _, f := range t.UDT.Fields {
				walk(f.Type)
			}
			seen[t.UDT.Name] = true
			out = append(out, t.UDT)
		}
	}
	walk(t)
	return out
}

// Equal 按 CQL 文本比较两个类型
func (t Type) Equal(o Type) bool {
	return t.String() == o.String()
}

// Resolver 按名称解析 UDT
type Resolver func(name string) (*UserType, bool)

// ParseType 解析 CQL 类型文本，例如 map<text, frozen<list<int>>>
// 无法识别的名称通过 resolve 查找 UDT；resolve 为 nil 时生成只带名称的 UDT
func ParseType(s string, resolve Resolver) (Type, error) {
	p := &typeParser{src: s, resolve: resolve}
	t, err := p.parse()
	if err != nil {
		return Type{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return Type{}, fmt.Errorf("unexpected %q in type %q", p.src[p.pos:], s)
	}
	return t, nil
}

// MustParseType 解析失败时 panic，仅用于常量声明
func MustParseType(s string) Type {
	t, err := ParseType(s, nil)
	if err != nil {
		panic(err)
	}
	return t
}

type typeParser struct {
	src     string
	pos     int
	resolve Resolver
}

func (p *typeParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *typeParser) ident() string {
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == '"' {
		end := strings.IndexByte(p.src[p.pos+1:], '"')
		if end < 0 {
			return ""
		}
		name := p.src[p.pos+1 : p.pos+1+end]
		p.pos += end + 2
		return name
	}
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '<' || c == '>' || c == ',' || c == ' ' {
			break
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *typeParser) expect(c byte) error {
	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != c {
		return fmt.Errorf("expected %q at offset %d in type %q", c, p.pos, p.src)
	}
	p.pos++
	return nil
}

func (p *typeParser) parse() (Type, error) {
	name := p.ident()
	if name == "" {
		return Type{}, fmt.Errorf("missing type name in %q", p.src)
	}
	lower := strings.ToLower(name)
	switch lower {
	case "frozen":
		if err := p.expect('<'); err != nil {
			return Type{}, err
		}
		inner, err := p.parse()
		if err != nil {
			return Type{}, err
		}
		if err := p.expect('>'); err != nil {
			return Type{}, err
		}
		inner.Frozen = inner.Kind != KindUDT
		return inner, nil
	case "list", "set":
		if err := p.expect('<'); err != nil {
			return Type{}, err
		}
		elem, err := p.parse()
		if err != nil {
			return Type{}, err
		}
		if err := p.expect('>'); err != nil {
			return Type{}, err
		}
		if lower == "list" {
			return ListOf(elem), nil
		}
		return SetOf(elem), nil
	case "map":
		if err := p.expect('<'); err != nil {
			return Type{}, err
		}
		key, err := p.parse()
		if err != nil {
			return Type{}, err
		}
		if err := p.expect(','); err != nil {
			return Type{}, err
		}
		value, err := p.parse()
		if err != nil {
			return Type{}, err
		}
		if err := p.expect('>'); err != nil {
			return Type{}, err
		}
		return MapOf(key, value), nil
	}
	if kind, ok := scalarKinds[lower]; ok {
		return Type{Kind: kind}, nil
	}
	if p.resolve != nil {
		if ut, ok := p.resolve(name); ok {
			return UDTOf(ut), nil
		}
		return Type{}, fmt.Errorf("unknown type %q", name)
	}
	return UDTOf(&UserType{Name: name}), nil
}
