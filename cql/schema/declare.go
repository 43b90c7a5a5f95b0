package schema

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/hatlonely/cqlx/cql/types"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Declarations 声明文件，描述一个 keyspace 下的 UDT 与表
type Declarations struct {
	Keyspace string             `json:"keyspace" yaml:"keyspace" toml:"keyspace"`
	Types    []TypeDeclaration  `json:"types" yaml:"types" toml:"types" validate:"dive"`
	Tables   []TableDeclaration `json:"tables" yaml:"tables" toml:"tables" validate:"required,min=1,dive"`
}

type TypeDeclaration struct {
	Name   string             `json:"name" yaml:"name" toml:"name" validate:"required"`
	Fields []FieldDeclaration `json:"fields" yaml:"fields" toml:"fields" validate:"required,min=1,dive"`
}

type FieldDeclaration struct {
	Name string `json:"name" yaml:"name" toml:"name" validate:"required"`
	Type string `json:"type" yaml:"type" toml:"type" validate:"required"`
}

type TableDeclaration struct {
	Name         string                  `json:"name" yaml:"name" toml:"name" validate:"required"`
	Keyspace     string                  `json:"keyspace" yaml:"keyspace" toml:"keyspace"`
	Columns      []ColumnDeclaration     `json:"columns" yaml:"columns" toml:"columns" validate:"required,min=1,dive"`
	PartitionKey []string                `json:"partitionKey" yaml:"partitionKey" toml:"partitionKey" validate:"required,min=1,dive,required"`
	Clustering   []ClusteringDeclaration `json:"clustering" yaml:"clustering" toml:"clustering" validate:"dive"`
	Indexes      []IndexDeclaration      `json:"indexes" yaml:"indexes" toml:"indexes" validate:"dive"`
	DefaultTTL   int                     `json:"defaultTTL" yaml:"defaultTTL" toml:"defaultTTL" validate:"min=0"`
	Comment      string                  `json:"comment" yaml:"comment" toml:"comment"`
	Options      map[string]string       `json:"options" yaml:"options" toml:"options"`
}

type ColumnDeclaration struct {
	Name      string `json:"name" yaml:"name" toml:"name" validate:"required"`
	Type      string `json:"type" yaml:"type" toml:"type" validate:"required"`
	Required  bool   `json:"required" yaml:"required" toml:"required"`
	Default   any    `json:"default" yaml:"default" toml:"default"`
	Generator string `json:"generator" yaml:"generator" toml:"generator" validate:"omitempty,oneof=uuid timeuuid now today snowflake"`
	Index     bool   `json:"index" yaml:"index" toml:"index"`
	Static    bool   `json:"static" yaml:"static" toml:"static"`
}

type ClusteringDeclaration struct {
	Column string `json:"column" yaml:"column" toml:"column" validate:"required"`
	Order  string `json:"order" yaml:"order" toml:"order" validate:"omitempty,oneof=ASC DESC asc desc"`
}

type IndexDeclaration struct {
	Name   string `json:"name" yaml:"name" toml:"name"`
	Column string `json:"column" yaml:"column" toml:"column" validate:"required"`
	Target string `json:"target" yaml:"target" toml:"target" validate:"omitempty,oneof=keys values entries full"`
}

// LoadDeclarations 读取声明文件并构建所有表模型，文件格式由扩展名决定
func LoadDeclarations(path string) ([]*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read declarations %s", path)
	}
	d, err := ParseDeclarations(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, errors.WithMessagef(err, "parse declarations %s", path)
	}
	return d.Build()
}

// ParseDeclarations 解析并校验声明，format 取值 yaml/yml/toml/json
func ParseDeclarations(data []byte, format string) (*Declarations, error) {
	var d Declarations
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, errors.Wrap(err, "failed to decode YAML")
		}
	case "toml":
		if err := toml.Unmarshal(data, &d); err != nil {
			return nil, errors.Wrap(err, "failed to decode TOML")
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&d); err != nil {
			return nil, errors.Wrap(err, "failed to decode JSON")
		}
	default:
		return nil, errors.Errorf("unsupported declaration format %q", format)
	}
	if err := validator.New().Struct(&d); err != nil {
		return nil, errors.Wrap(err, "invalid declarations")
	}
	return &d, nil
}

// Build 解析 UDT 并按声明顺序构建表模型
func (d *Declarations) Build() ([]*Schema, error) {
	resolve, err := d.userTypes()
	if err != nil {
		return nil, err
	}

	schemas := make([]*Schema, 0, len(d.Tables))
	for _, t := range d.Tables {
		columns := make([]Column, 0, len(t.Columns))
		for _, c := range t.Columns {
			typ, err := types.ParseType(c.Type, resolve)
			if err != nil {
				return nil, errors.WithMessagef(err, "table %s column %s", t.Name, c.Name)
			}
			column := Column{
				Name:     c.Name,
				Type:     typ,
				Required: c.Required,
				Default:  literal(typ, c.Default),
				Indexed:  c.Index,
				Static:   c.Static,
			}
			if c.Generator != "" {
				column.DefaultFunc, _ = types.LookupGenerator(c.Generator)
			}
			columns = append(columns, column)
		}

		key := PartitionKey(t.PartitionKey...)
		for _, c := range t.Clustering {
			key = key.ClusterBy(c.Column, ClusteringOrder(strings.ToUpper(c.Order)))
		}

		indexes := make([]Index, 0, len(t.Indexes))
		for _, idx := range t.Indexes {
			indexes = append(indexes, Index{Name: idx.Name, Column: idx.Column, Target: IndexTarget(idx.Target)})
		}

		keyspace := t.Keyspace
		if keyspace == "" {
			keyspace = d.Keyspace
		}
		opts := []Option{WithKeyspace(keyspace), WithDefaultTTL(t.DefaultTTL), WithComment(t.Comment)}
		for k, v := range t.Options {
			opts = append(opts, WithTableOption(k, v))
		}

		s, err := Build(t.Name, columns, key, indexes, opts...)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}
	return schemas, nil
}

// userTypes 解析所有 UDT，允许引用后声明的类型，拒绝循环引用
func (d *Declarations) userTypes() (types.Resolver, error) {
	byName := make(map[string]*types.UserType, len(d.Types))
	for _, t := range d.Types {
		if _, ok := byName[t.Name]; ok {
			return nil, errors.Errorf("user type %s is declared more than once", t.Name)
		}
		byName[t.Name] = &types.UserType{Name: t.Name}
	}
	resolve := func(name string) (*types.UserType, bool) {
		ut, ok := byName[name]
		return ut, ok
	}
	for _, t := range d.Types {
		ut := byName[t.Name]
		for _, f := range t.Fields {
			typ, err := types.ParseType(f.Type, resolve)
			if err != nil {
				return nil, errors.WithMessagef(err, "user type %s field %s", t.Name, f.Name)
			}
			ut.Fields = append(ut.Fields, types.Field{Name: f.Name, Type: typ})
		}
	}

	state := map[string]int{}
	var visit func(ut *types.UserType) error
	visit = func(ut *types.UserType) error {
		switch state[ut.Name] {
		case 1:
			return errors.Errorf("user type %s references itself", ut.Name)
		case 2:
			return nil
		}
		state[ut.Name] = 1
		for _, f := range ut.Fields {
			for _, child := range directUserTypes(f.Type) {
				if err := visit(child); err != nil {
					return err
				}
			}
		}
		state[ut.Name] = 2
		return nil
	}
	for _, t := range d.Types {
		if err := visit(byName[t.Name]); err != nil {
			return nil, err
		}
	}
	return resolve, nil
}

func directUserTypes(t types.Type) []*types.UserType {
	switch {
	case t.Kind == types.KindUDT:
		return []*types.UserType{t.UDT}
	case t.Kind == types.KindMap:
		return append(directUserTypes(*t.Key), directUserTypes(*t.Elem)...)
	case t.Elem != nil:
		return directUserTypes(*t.Elem)
	}
	return nil
}

// literal 把解码器产生的数字统一为列类型期望的 Go 类型
// JSON 数字为 json.Number，整数列需要转换为 int64
func literal(t types.Type, v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return literal(t, f)
		}
	case float64:
		switch t.Kind {
		case types.KindTinyint, types.KindSmallint, types.KindInt, types.KindBigint:
			if n == math.Trunc(n) && math.Abs(n) < 1<<63 {
				return int64(n)
			}
		}
	case []any:
		if t.Elem == nil {
			return v
		}
		out := make([]any, len(n))
		for i, item := range n {
			out[i] = literal(*t.Elem, item)
		}
		return out
	case map[string]any:
		if t.Kind == types.KindUDT && t.UDT != nil {
			out := make(map[string]any, len(n))
			for k, item := range n {
				if f, ok := t.UDT.Field(k); ok {
					out[k] = literal(f.Type, item)
				} else {
					out[k] = item
				}
			}
			return out
		}
		if t.Kind == types.KindMap {
			out := make(map[any]any, len(n))
			for k, item := range n {
				out[literal(*t.Key, k)] = literal(*t.Elem, item)
			}
			return out
		}
	}
	return v
}
