package cfg

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Convert 将 Decode 的结果赋值到 object 指向的结构体
// 字段名优先取 cfg tag，其次 json tag，最后是字段名；大小写不敏感
func Convert(src any, object any) error {
	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("object must be a non-nil pointer")
	}
	return convertValue(src, rv.Elem(), "")
}

func convertValue(src any, dst reflect.Value, path string) error {
	if src == nil {
		return nil
	}
	if dst.Kind() == reflect.Ptr {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		return convertValue(src, dst.Elem(), path)
	}

	if n, ok := src.(json.Number); ok {
		src = numberValue(n)
	}
	sv := reflect.ValueOf(src)

	if dst.Type() == durationType {
		return convertDuration(sv, dst, path)
	}

	switch dst.Kind() {
	case reflect.Struct:
		return convertStruct(sv, dst, path)
	case reflect.Map:
		return convertMap(sv, dst, path)
	case reflect.Slice:
		return convertSlice(sv, dst, path)
	case reflect.Interface:
		if dst.Type().NumMethod() == 0 {
			dst.Set(sv)
			return nil
		}
	case reflect.String:
		if sv.Kind() != reflect.String {
			dst.SetString(fmt.Sprint(src))
			return nil
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if sv.Kind() == reflect.String {
			return setDefaultValue(dst, sv.String())
		}
		if !sv.CanConvert(dst.Type()) || sv.Kind() == reflect.Bool {
			return fmt.Errorf("%s: cannot convert %v to %v", path, sv.Type(), dst.Type())
		}
	case reflect.Bool:
		if sv.Kind() == reflect.String {
			return setDefaultValue(dst, sv.String())
		}
	}

	if sv.Type().AssignableTo(dst.Type()) {
		dst.Set(sv)
		return nil
	}
	if sv.CanConvert(dst.Type()) {
		dst.Set(sv.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("%s: cannot convert %v to %v", path, sv.Type(), dst.Type())
}

func numberValue(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func convertDuration(sv reflect.Value, dst reflect.Value, path string) error {
	switch sv.Kind() {
	case reflect.String:
		d, err := time.ParseDuration(sv.String())
		if err != nil {
			return fmt.Errorf("%s: failed to parse duration %q: %w", path, sv.String(), err)
		}
		dst.SetInt(int64(d))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 整数视为纳秒
		dst.SetInt(sv.Int())
	case reflect.Float32, reflect.Float64:
		// 浮点数视为秒
		dst.SetInt(int64(sv.Float() * float64(time.Second)))
	default:
		return fmt.Errorf("%s: cannot convert %v to time.Duration", path, sv.Type())
	}
	return nil
}

func convertStruct(sv reflect.Value, dst reflect.Value, path string) error {
	if sv.Kind() != reflect.Map {
		return fmt.Errorf("%s: expected a map, got %v", path, sv.Type())
	}
	keys := make(map[string]reflect.Value, sv.Len())
	for _, k := range sv.MapKeys() {
		keys[strings.ToLower(fmt.Sprint(k.Interface()))] = sv.MapIndex(k)
	}

	rt := dst.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !dst.Field(i).CanSet() {
			continue
		}
		name := fieldName(field)
		if name == "-" {
			continue
		}
		v, ok := keys[strings.ToLower(name)]
		if !ok {
			continue
		}
		if err := convertValue(v.Interface(), dst.Field(i), joinPath(path, name)); err != nil {
			return err
		}
	}
	return nil
}

func fieldName(field reflect.StructField) string {
	for _, tag := range []string{"cfg", "json"} {
		if name := strings.Split(field.Tag.Get(tag), ",")[0]; name != "" {
			return name
		}
	}
	return field.Name
}

func convertMap(sv reflect.Value, dst reflect.Value, path string) error {
	if sv.Kind() != reflect.Map {
		return fmt.Errorf("%s: expected a map, got %v", path, sv.Type())
	}
	if dst.IsNil() {
		dst.Set(reflect.MakeMapWithSize(dst.Type(), sv.Len()))
	}
	for _, k := range sv.MapKeys() {
		key := reflect.New(dst.Type().Key()).Elem()
		if err := convertValue(k.Interface(), key, path); err != nil {
			return err
		}
		value := reflect.New(dst.Type().Elem()).Elem()
		if err := convertValue(sv.MapIndex(k).Interface(), value, joinPath(path, fmt.Sprint(k.Interface()))); err != nil {
			return err
		}
		dst.SetMapIndex(key, value)
	}
	return nil
}

func convertSlice(sv reflect.Value, dst reflect.Value, path string) error {
	if sv.Kind() == reflect.String && dst.Type().Elem().Kind() == reflect.String {
		return setSliceDefault(dst, sv.String())
	}
	if sv.Kind() != reflect.Slice && sv.Kind() != reflect.Array {
		return fmt.Errorf("%s: expected a list, got %v", path, sv.Type())
	}
	out := reflect.MakeSlice(dst.Type(), sv.Len(), sv.Len())
	for i := 0; i < sv.Len(); i++ {
		if err := convertValue(sv.Index(i).Interface(), out.Index(i), path+"["+strconv.Itoa(i)+"]"); err != nil {
			return err
		}
	}
	dst.Set(out)
	return nil
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
