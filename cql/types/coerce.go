package types

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hatlonely/cqlx/cql"
)

var timeType = reflect.TypeOf(time.Time{})

// ToStore 将 Go 值转换为存储值
// nil 与 nil 指针映射为 null；返回的错误为 *cql.CoercionError，未填写列名
func ToStore(t Type, v any) (any, error) {
	return toStore(t, v, "")
}

// FromStore 将驱动返回的值转换为规范的 Go 值
// 集合为 null 时返回空集合
func FromStore(t Type, v any) (any, error) {
	return fromStore(t, v, "")
}

// WithColumn 为类型错误补充表名与列名
func WithColumn(err error, table, column string) error {
	if ce, ok := err.(*cql.CoercionError); ok {
		ce.Table = table
		ce.Column = column
		return ce
	}
	return err
}

func mismatch(t Type, v any, path, reason string) error {
	return &cql.CoercionError{
		Path:     path,
		Expected: t.String(),
		Actual:   fmt.Sprintf("%T", v),
		Reason:   reason,
	}
}

func deref(v any) (reflect.Value, bool) {
	if v == nil {
		return reflect.Value{}, false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return reflect.Value{}, false
		}
		rv = rv.Elem()
	}
	return rv, true
}

func toStore(t Type, v any, path string) (any, error) {
	rv, ok := deref(v)
	if !ok {
		return nil, nil
	}
	v = rv.Interface()

	switch t.Kind {
	case KindList:
		items, err := sequence(t, rv, path, toStore)
		if err != nil {
			return nil, err
		}
		return items, nil
	case KindSet:
		if rv.Kind() == reflect.Map {
			return setFromMap(t, rv, path)
		}
		items, err := sequence(t, rv, path, toStore)
		if err != nil {
			return nil, err
		}
		return dedup(items), nil
	case KindMap:
		return mapping(t, rv, path, toStore)
	case KindUDT:
		return udtToStore(t, rv, path)
	case KindUUID, KindTimeUUID:
		u, err := toUUID(t, v, rv, path)
		if err != nil {
			return nil, err
		}
		return [16]byte(u), nil
	default:
		return scalar(t, v, rv, path)
	}
}

func fromStore(t Type, v any, path string) (any, error) {
	rv, ok := deref(v)
	if !ok {
		switch t.Kind {
		case KindList, KindSet:
			return []any{}, nil
		case KindMap:
			return map[any]any{}, nil
		}
		return nil, nil
	}
	v = rv.Interface()

	switch t.Kind {
	case KindList:
		return sequence(t, rv, path, fromStore)
	case KindSet:
		if rv.Kind() == reflect.Map {
			items, err := setFromMap(t, rv, path)
			if err != nil {
				return nil, err
			}
			return fromStore(t, items, path)
		}
		items, err := sequence(t, rv, path, fromStore)
		if err != nil {
			return nil, err
		}
		return dedup(items), nil
	case KindMap:
		return mapping(t, rv, path, fromStore)
	case KindUDT:
		return udtFromStore(t, rv, path)
	case KindUUID, KindTimeUUID:
		return toUUID(t, v, rv, path)
	case KindTimestamp:
		if rv.Kind() == reflect.Int64 {
			return time.UnixMilli(rv.Int()).UTC(), nil
		}
		return scalar(t, v, rv, path)
	default:
		return scalar(t, v, rv, path)
	}
}

// scalar 处理除 uuid 外的标量，两个方向规则一致
func scalar(t Type, v any, rv reflect.Value, path string) (any, error) {
	switch t.Kind {
	case KindASCII, KindText, KindVarchar:
		var s string
		switch {
		case rv.Kind() == reflect.String:
			s = rv.String()
		case rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8:
			s = string(rv.Bytes())
		default:
			return nil, mismatch(t, v, path, "")
		}
		if t.Kind == KindASCII {
			for i := 0; i < len(s); i++ {
				if s[i] > 127 {
					return nil, mismatch(t, v, path, "non-ascii character")
				}
			}
		}
		return s, nil
	case KindTinyint:
		n, err := toInt(t, v, rv, path, 8)
		return int8(n), err
	case KindSmallint:
		n, err := toInt(t, v, rv, path, 16)
		return int16(n), err
	case KindInt:
		n, err := toInt(t, v, rv, path, 32)
		return int32(n), err
	case KindBigint:
		n, err := toInt(t, v, rv, path, 64)
		return n, err
	case KindFloat:
		f, err := toFloat(t, v, rv, path)
		if err != nil {
			return nil, err
		}
		if math.Abs(f) > math.MaxFloat32 && !math.IsInf(f, 0) {
			return nil, mismatch(t, v, path, "out of range")
		}
		return float32(f), nil
	case KindDouble:
		return toFloat(t, v, rv, path)
	case KindBoolean:
		if rv.Kind() != reflect.Bool {
			return nil, mismatch(t, v, path, "")
		}
		return rv.Bool(), nil
	case KindTimestamp:
		tm, err := toTime(t, v, rv, path, time.RFC3339Nano)
		if err != nil {
			return nil, err
		}
		return tm, nil
	case KindDate:
		tm, err := toTime(t, v, rv, path, time.DateOnly)
		if err != nil {
			return nil, err
		}
		y, m, d := tm.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	case KindBlob:
		if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() != reflect.Uint8 {
			return nil, mismatch(t, v, path, "")
		}
		b := make([]byte, rv.Len())
		copy(b, rv.Bytes())
		return b, nil
	}
	return nil, mismatch(t, v, path, "unsupported type")
}

func toInt(t Type, v any, rv reflect.Value, path string, bits uint) (int64, error) {
	var n int64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n = rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, mismatch(t, v, path, "out of range")
		}
		n = int64(u)
	default:
		return 0, mismatch(t, v, path, "")
	}
	if bits < 64 {
		limit := int64(1) << (bits - 1)
		if n < -limit || n >= limit {
			return 0, mismatch(t, v, path, "out of range")
		}
	}
	return n, nil
}

func toFloat(t Type, v any, rv reflect.Value, path string) (float64, error) {
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	}
	return 0, mismatch(t, v, path, "")
}

func toTime(t Type, v any, rv reflect.Value, path string, layout string) (time.Time, error) {
	if rv.Type() == timeType {
		return rv.Interface().(time.Time), nil
	}
	if rv.Kind() == reflect.String {
		tm, err := time.Parse(layout, rv.String())
		if err != nil {
			return time.Time{}, mismatch(t, v, path, err.Error())
		}
		return tm, nil
	}
	return time.Time{}, mismatch(t, v, path, "")
}

func toUUID(t Type, v any, rv reflect.Value, path string) (uuid.UUID, error) {
	var u uuid.UUID
	switch {
	case rv.Kind() == reflect.Array && rv.Len() == 16 && rv.Type().Elem().Kind() == reflect.Uint8:
		reflect.Copy(reflect.ValueOf(u[:]), rv)
	case rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8:
		if rv.Len() != 16 {
			return u, mismatch(t, v, path, "uuid requires 16 bytes")
		}
		copy(u[:], rv.Bytes())
	case rv.Kind() == reflect.String:
		parsed, err := uuid.Parse(rv.String())
		if err != nil {
			return u, mismatch(t, v, path, err.Error())
		}
		u = parsed
	default:
		return u, mismatch(t, v, path, "")
	}
	if t.Kind == KindTimeUUID && u.Version() != 1 {
		return u, mismatch(t, v, path, "not a version 1 uuid")
	}
	return u, nil
}

type convertFunc func(Type, any, string) (any, error)

func sequence(t Type, rv reflect.Value, path string, convert convertFunc) ([]any, error) {
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, mismatch(t, rv.Interface(), path, "")
	}
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 && t.elem().Kind != KindTinyint {
		return nil, mismatch(t, rv.Interface(), path, "")
	}
	items := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		item, err := convert(t.elem(), rv.Index(i).Interface(), fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		if item == nil {
			return nil, mismatch(t, rv.Interface(), fmt.Sprintf("%s[%d]", path, i), "collections cannot contain null")
		}
		items = append(items, item)
	}
	return items, nil
}

// setFromMap 支持 map[T]bool / map[T]struct{} 形式的集合，值为 false 的键忽略
func setFromMap(t Type, rv reflect.Value, path string) ([]any, error) {
	keys := rv.MapKeys()
	items := make([]any, 0, len(keys))
	for _, k := range keys {
		val := rv.MapIndex(k)
		if val.Kind() == reflect.Interface && !val.IsNil() {
			val = val.Elem()
		}
		if val.Kind() == reflect.Bool && !val.Bool() {
			continue
		}
		item, err := toStore(t.elem(), k.Interface(), path+"{}")
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return fmt.Sprint(items[i]) < fmt.Sprint(items[j])
	})
	return dedup(items), nil
}

func mapping(t Type, rv reflect.Value, path string, convert convertFunc) (map[any]any, error) {
	if rv.Kind() != reflect.Map {
		return nil, mismatch(t, rv.Interface(), path, "")
	}
	out := make(map[any]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		keyPath := fmt.Sprintf("%s[%v]", path, iter.Key().Interface())
		key, err := convert(t.key(), iter.Key().Interface(), keyPath)
		if err != nil {
			return nil, err
		}
		if key == nil || !reflect.TypeOf(key).Comparable() {
			return nil, mismatch(t, rv.Interface(), keyPath, "map key must be a comparable non-null value")
		}
		value, err := convert(t.elem(), iter.Value().Interface(), keyPath)
		if err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, nil
}

func udtToStore(t Type, rv reflect.Value, path string) (any, error) {
	if t.UDT == nil {
		return nil, mismatch(t, rv.Interface(), path, "user type has no definition")
	}
	source, err := udtFields(t, rv, path, true)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(t.UDT.Fields))
	for _, f := range t.UDT.Fields {
		value, err := toStore(f.Type, source[f.Name], joinPath(path, f.Name))
		if err != nil {
			return nil, err
		}
		out[f.Name] = value
	}
	return out, nil
}

func udtFromStore(t Type, rv reflect.Value, path string) (any, error) {
	if t.UDT == nil {
		return nil, mismatch(t, rv.Interface(), path, "user type has no definition")
	}
	// 存储端可能已经增加了字段，读取时忽略未声明的字段
	source, err := udtFields(t, rv, path, false)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(t.UDT.Fields))
	for _, f := range t.UDT.Fields {
		value, err := fromStore(f.Type, source[f.Name], joinPath(path, f.Name))
		if err != nil {
			return nil, err
		}
		out[f.Name] = value
	}
	return out, nil
}

// udtFields 将 map 或结构体展开为字段名到值的映射，strict 时拒绝未声明的字段
func udtFields(t Type, rv reflect.Value, path string, strict bool) (map[string]any, error) {
	fields := map[string]any{}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, mismatch(t, rv.Interface(), path, "user type map keys must be strings")
		}
		iter := rv.MapRange()
		for iter.Next() {
			fields[iter.Key().String()] = iter.Value().Interface()
		}
	case reflect.Struct:
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			sf := rt.Field(i)
			if !sf.IsExported() {
				continue
			}
			name := FieldName(sf)
			if name == "-" {
				continue
			}
			fields[name] = rv.Field(i).Interface()
		}
	default:
		return nil, mismatch(t, rv.Interface(), path, "")
	}
	for name := range fields {
		if _, ok := t.UDT.Field(name); !ok && strict {
			return nil, mismatch(t, rv.Interface(), joinPath(path, name), "unknown field "+name)
		}
	}
	return fields, nil
}

// FieldName 返回结构体字段映射到的列名或 UDT 字段名
// 取 cql tag 的第一段，未指定时使用下划线形式的字段名
func FieldName(sf reflect.StructField) string {
	tag := sf.Tag.Get("cql")
	if tag == "-" {
		return "-"
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" && !strings.Contains(name, "=") {
		return name
	}
	return cql.SnakeCase(sf.Name)
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

// dedup 去重并保持首次出现的顺序
func dedup(items []any) []any {
	out := make([]any, 0, len(items))
	seen := map[any]bool{}
	for _, item := range items {
		key, hashable := hashKey(item)
		if hashable {
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, item)
			continue
		}
		duplicate := false
		for _, existing := range out {
			if reflect.DeepEqual(existing, item) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			out = append(out, item)
		}
	}
	return out
}

type blobKey string

func hashKey(v any) (any, bool) {
	if b, ok := v.([]byte); ok {
		return blobKey(b), true
	}
	if v == nil || !reflect.TypeOf(v).Comparable() {
		return nil, false
	}
	if tm, ok := v.(time.Time); ok {
		return tm.UnixNano(), true
	}
	return v, true
}
