package schema

import (
	"reflect"

	"github.com/hatlonely/cqlx/cql/types"
	"github.com/pkg/errors"
)

// Encode 将结构体转换为列名到值的映射
// nil 指针和 nil 集合不写入，由 Prepare 补充默认值
// 零值照常写入，只有带生成器的列取零值时视为未赋值
func (s *Schema) Encode(v any) (map[string]any, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, errors.New("cannot encode nil pointer")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, errors.Errorf("expected struct, got %T", v)
	}

	rt := rv.Type()
	values := map[string]any{}
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name := types.FieldName(field)
		if name == "-" {
			continue
		}
		c, ok := s.Column(name)
		if !ok {
			return nil, s.unknownColumn(name)
		}
		fv := rv.Field(i)
		switch fv.Kind() {
		case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface:
			if fv.IsNil() {
				continue
			}
		}
		if c.DefaultFunc != nil && fv.IsZero() {
			continue
		}
		values[name] = fv.Interface()
	}
	return values, nil
}

// Decode 将规范形式的行写入结构体，dest 必须是结构体指针
func (s *Schema) Decode(row map[string]any, dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return errors.Errorf("dest must be a pointer to struct, got %T", dest)
	}
	return decodeStruct(rv.Elem(), row)
}

func decodeStruct(rv reflect.Value, fields map[string]any) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name := types.FieldName(field)
		if name == "-" {
			continue
		}
		value, exists := fields[name]
		if !exists {
			continue
		}
		if err := assign(rv.Field(i), value); err != nil {
			return errors.WithMessagef(err, "failed to set field %s", field.Name)
		}
	}
	return nil
}

// assign 把规范形式的值写入任意兼容的 Go 类型
func assign(dst reflect.Value, value any) error {
	if value == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	dt := dst.Type()
	if dt.Kind() == reflect.Ptr {
		elem := reflect.New(dt.Elem())
		if err := assign(elem.Elem(), value); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	sv := reflect.ValueOf(value)
	st := sv.Type()
	if st.AssignableTo(dt) {
		dst.Set(sv)
		return nil
	}

	switch dt.Kind() {
	case reflect.Slice:
		items, ok := value.([]any)
		if !ok {
			break
		}
		out := reflect.MakeSlice(dt, len(items), len(items))
		for i, item := range items {
			if err := assign(out.Index(i), item); err != nil {
				return errors.WithMessagef(err, "index %d", i)
			}
		}
		dst.Set(out)
		return nil
	case reflect.Map:
		switch m := value.(type) {
		case []any:
			// set 映射为 map[T]bool 或 map[T]struct{}
			out := reflect.MakeMapWithSize(dt, len(m))
			member := reflect.New(dt.Elem()).Elem()
			if dt.Elem().Kind() == reflect.Bool {
				member.SetBool(true)
			}
			for _, item := range m {
				k := reflect.New(dt.Key()).Elem()
				if err := assign(k, item); err != nil {
					return err
				}
				out.SetMapIndex(k, member)
			}
			dst.Set(out)
			return nil
		case map[any]any:
			out := reflect.MakeMapWithSize(dt, len(m))
			for key, item := range m {
				k := reflect.New(dt.Key()).Elem()
				if err := assign(k, key); err != nil {
					return err
				}
				v := reflect.New(dt.Elem()).Elem()
				if err := assign(v, item); err != nil {
					return err
				}
				out.SetMapIndex(k, v)
			}
			dst.Set(out)
			return nil
		case map[string]any:
			if dt.Key().Kind() != reflect.String {
				break
			}
			out := reflect.MakeMapWithSize(dt, len(m))
			for key, item := range m {
				v := reflect.New(dt.Elem()).Elem()
				if err := assign(v, item); err != nil {
					return err
				}
				out.SetMapIndex(reflect.ValueOf(key).Convert(dt.Key()), v)
			}
			dst.Set(out)
			return nil
		}
	case reflect.Struct:
		if fields, ok := value.(map[string]any); ok {
			return decodeStruct(dst, fields)
		}
	}

	if convertible(st, dt) {
		dst.Set(sv.Convert(dt))
		return nil
	}
	return errors.Errorf("cannot convert %v to %v", st, dt)
}

// convertible 只允许同类值之间的转换，避免整数被转换为字符串
func convertible(from, to reflect.Type) bool {
	if !from.ConvertibleTo(to) {
		return false
	}
	switch {
	case isNumber(from.Kind()) && isNumber(to.Kind()):
		return true
	case from.Kind() == to.Kind():
		return true
	}
	return false
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
