package schema

import (
	"fmt"

	"github.com/hatlonely/cqlx/cql"
	"github.com/hatlonely/cqlx/cql/query"
	"github.com/hatlonely/cqlx/cql/types"
)

// Prepare 校验写入值，为缺失的列补充默认值
// 返回规范形式的新 map；没有默认值的必填列缺失时返回 *cql.MissingRequiredFieldError
func (s *Schema) Prepare(values map[string]any) (map[string]any, error) {
	for name := range values {
		if _, ok := s.positions[name]; !ok {
			return nil, s.unknownColumn(name)
		}
	}

	out := make(map[string]any, len(s.columns))
	for _, c := range s.columns {
		v, present := values[c.Name]
		if present && v != nil {
			native, err := s.coerce(c, v)
			if err != nil {
				return nil, err
			}
			if native != nil {
				out[c.Name] = native
				continue
			}
		}
		switch {
		case c.Default != nil:
			native, err := canonical(c.Type, c.Default)
			if err != nil {
				return nil, types.WithColumn(err, s.table, c.Name)
			}
			out[c.Name] = native
		case c.DefaultFunc != nil:
			native, err := s.coerce(c, c.DefaultFunc())
			if err != nil {
				return nil, err
			}
			out[c.Name] = native
		case c.Required:
			return nil, &cql.MissingRequiredFieldError{Table: s.table, Column: c.Name}
		case present:
			out[c.Name] = nil
		}
	}
	return out, nil
}

// Coerce 将值转换为列的规范 Go 形式
func (s *Schema) Coerce(column string, v any) (any, error) {
	c, ok := s.Column(column)
	if !ok {
		return nil, s.unknownColumn(column)
	}
	return s.coerce(c, v)
}

func (s *Schema) coerce(c Column, v any) (any, error) {
	native, err := canonical(c.Type, v)
	if err != nil {
		return nil, types.WithColumn(err, s.table, c.Name)
	}
	return native, nil
}

// ToStore 将值转换为列的存储形式
func (s *Schema) ToStore(column string, v any) (any, error) {
	c, ok := s.Column(column)
	if !ok {
		return nil, s.unknownColumn(column)
	}
	stored, err := types.ToStore(c.Type, v)
	if err != nil {
		return nil, types.WithColumn(err, s.table, column)
	}
	return stored, nil
}

// Hydrate 将驱动返回的行转换为规范 Go 形式，忽略模型中不存在的列
func (s *Schema) Hydrate(row map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(row))
	for name, v := range row {
		c, ok := s.Column(name)
		if !ok {
			continue
		}
		native, err := types.FromStore(c.Type, v)
		if err != nil {
			return nil, types.WithColumn(err, s.table, name)
		}
		out[name] = native
	}
	return out, nil
}

// CoerceFilter 校验过滤条件并把操作数转换为存储形式
func (s *Schema) CoerceFilter(f query.Filter) (query.Filter, error) {
	c, ok := s.Column(f.Column)
	if !ok {
		return f, s.unknownColumn(f.Column)
	}
	if err := f.Validate(); err != nil {
		ue := err.(*cql.UnsupportedQueryError)
		ue.Table = s.table
		return f, ue
	}

	operand := c.Type
	switch f.Op {
	case query.OpContains:
		if !c.Type.IsCollection() {
			return f, s.operatorError(f, "CONTAINS requires a collection column")
		}
		operand = *c.Type.Elem
	case query.OpContainsKey:
		if c.Type.Kind != types.KindMap {
			return f, s.operatorError(f, "CONTAINS KEY requires a map column")
		}
		operand = *c.Type.Key
	default:
		if f.Op.IsRange() && c.Type.MultiCell() {
			return f, s.operatorError(f, fmt.Sprintf("%s is not supported on non-frozen collections", f.Op))
		}
	}

	values := make([]any, 0, len(f.Values))
	for _, v := range f.Values {
		stored, err := types.ToStore(operand, v)
		if err != nil {
			return f, types.WithColumn(err, s.table, f.Column)
		}
		if stored == nil {
			return f, s.operatorError(f, "operands cannot be null")
		}
		values = append(values, stored)
	}
	return query.Filter{Column: f.Column, Op: f.Op, Values: values}, nil
}

func (s *Schema) unknownColumn(name string) error {
	return &cql.UnsupportedQueryError{Table: s.table, Column: name, Rule: cql.RuleUnknownColumn, Detail: fmt.Sprintf("column %s is not declared", name)}
}

func (s *Schema) operatorError(f query.Filter, detail string) error {
	return &cql.UnsupportedQueryError{Table: s.table, Column: f.Column, Rule: cql.RuleOperatorColumn, Detail: detail}
}
