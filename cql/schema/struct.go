package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hatlonely/cqlx/cql"
	"github.com/hatlonely/cqlx/cql/types"
	"github.com/pkg/errors"
)

// Tabler 自定义表名
type Tabler interface {
	TableName() string
}

// Keyspacer 自定义 keyspace
type Keyspacer interface {
	Keyspace() string
}

var (
	timeType   = reflect.TypeOf(time.Time{})
	uuidType   = reflect.TypeOf(uuid.UUID{})
	emptyType  = reflect.TypeOf(struct{}{})
	tablerType = reflect.TypeOf((*Tabler)(nil)).Elem()
)

// FromStruct 从结构体构建 Schema
// 支持的 tag 格式：
//   - `cql:"name,partition,clustering=desc,required,index,static,type=frozen<list<int>>,default=0,gen=timeuuid"`
//   - `cql:"-"` 跳过字段
//
// 分区键与聚簇键按字段顺序排列；表名取 TableName() 或下划线形式的类型名
func FromStruct(v any, opts ...Option) (*Schema, error) {
	rt := reflect.TypeOf(v)
	for rt != nil && rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	if rt == nil || rt.Kind() != reflect.Struct {
		return nil, errors.Errorf("expected struct, got %T", v)
	}

	table := cql.SnakeCase(rt.Name())
	if t, ok := v.(Tabler); ok {
		table = t.TableName()
	} else if reflect.PointerTo(rt).Implements(tablerType) {
		table = reflect.New(rt).Interface().(Tabler).TableName()
	}
	if k, ok := v.(Keyspacer); ok && k.Keyspace() != "" {
		opts = append([]Option{WithKeyspace(k.Keyspace())}, opts...)
	}

	b := &structBuilder{udts: map[reflect.Type]*types.UserType{}, named: map[string]*types.UserType{}}
	var columns []Column
	var key KeySpec
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name := types.FieldName(field)
		if name == "-" {
			continue
		}
		column, role, order, err := b.parseField(field, name)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to parse field %s", field.Name)
		}
		switch role {
		case KindPartitionKey:
			key.Partition = append(key.Partition, name)
		case KindClustering:
			key.Clustering = append(key.Clustering, ClusteringColumn{Name: name, Order: order})
		}
		columns = append(columns, column)
	}
	return Build(table, columns, key, nil, opts...)
}

type structBuilder struct {
	udts  map[reflect.Type]*types.UserType
	named map[string]*types.UserType
}

// parseField 解析字段的 cql tag
func (b *structBuilder) parseField(field reflect.StructField, name string) (Column, ColumnKind, ClusteringOrder, error) {
	column := Column{Name: name}
	role := KindRegular
	var order ClusteringOrder
	var declaredType, defaultValue, generator string

	parts := strings.Split(field.Tag.Get("cql"), ",")
	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		switch key {
		case "partition", "pk":
			role = KindPartitionKey
		case "clustering", "ck":
			role = KindClustering
			order = Asc
			if hasValue {
				order = ClusteringOrder(strings.ToUpper(value))
			}
		case "required":
			column.Required = true
		case "index":
			column.Indexed = true
		case "static":
			column.Static = true
		case "type":
			declaredType = value
		case "default":
			defaultValue = value
		case "gen":
			generator = value
		default:
			return column, role, order, errors.Errorf("unknown tag option %q", part)
		}
	}

	var err error
	if declaredType != "" {
		column.Type, err = types.ParseType(declaredType, b.resolve)
	} else {
		column.Type, err = b.inferType(field.Type)
	}
	if err != nil {
		return column, role, order, err
	}

	if generator != "" {
		g, ok := types.LookupGenerator(generator)
		if !ok {
			return column, role, order, errors.Errorf("unknown generator %q", generator)
		}
		column.DefaultFunc = g
	}
	if defaultValue != "" {
		column.Default, err = parseDefaultValue(defaultValue, column.Type)
		if err != nil {
			return column, role, order, err
		}
	}
	return column, role, order, nil
}

func (b *structBuilder) resolve(name string) (*types.UserType, bool) {
	ut, ok := b.named[name]
	return ut, ok
}

// inferType 从 Go 类型推断列类型
func (b *structBuilder) inferType(t reflect.Type) (types.Type, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t {
	case timeType:
		return types.Timestamp, nil
	case uuidType:
		return types.UUID, nil
	}

	switch t.Kind() {
	case reflect.String:
		return types.Text, nil
	case reflect.Bool:
		return types.Boolean, nil
	case reflect.Int8:
		return types.Tinyint, nil
	case reflect.Int16, reflect.Uint8:
		return types.Smallint, nil
	case reflect.Int32, reflect.Uint16:
		return types.Int, nil
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return types.Bigint, nil
	case reflect.Float32:
		return types.Float, nil
	case reflect.Float64:
		return types.Double, nil
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			if t.Kind() == reflect.Array && t.Len() == 16 {
				return types.UUID, nil
			}
			return types.Blob, nil
		}
		elem, err := b.inferType(t.Elem())
		if err != nil {
			return types.Type{}, err
		}
		return types.ListOf(elem), nil
	case reflect.Map:
		key, err := b.inferType(t.Key())
		if err != nil {
			return types.Type{}, err
		}
		if t.Elem().Kind() == reflect.Bool || t.Elem() == emptyType {
			return types.SetOf(key), nil
		}
		elem, err := b.inferType(t.Elem())
		if err != nil {
			return types.Type{}, err
		}
		return types.MapOf(key, elem), nil
	case reflect.Struct:
		ut, err := b.userType(t)
		if err != nil {
			return types.Type{}, err
		}
		return types.UDTOf(ut), nil
	}
	return types.Type{}, errors.Errorf("cannot infer column type for %s", t)
}

// userType 嵌套结构体映射为 UDT，类型名为下划线形式的结构体名
func (b *structBuilder) userType(t reflect.Type) (*types.UserType, error) {
	if ut, ok := b.udts[t]; ok {
		if len(ut.Fields) == 0 {
			return nil, errors.Errorf("recursive user type %s", t)
		}
		return ut, nil
	}
	ut := &types.UserType{Name: cql.SnakeCase(t.Name())}
	b.udts[t] = ut
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := types.FieldName(sf)
		if name == "-" {
			continue
		}
		ft, err := b.inferType(sf.Type)
		if err != nil {
			return nil, errors.WithMessagef(err, "field %s.%s", t.Name(), sf.Name)
		}
		ut.Fields = append(ut.Fields, types.Field{Name: name, Type: ft})
	}
	b.named[ut.Name] = ut
	return ut, nil
}

// parseDefaultValue 解析 tag 中的默认值字面量
func parseDefaultValue(value string, t types.Type) (any, error) {
	if len(value) >= 2 && (value[0] == '\'' && value[len(value)-1] == '\'' || value[0] == '"' && value[len(value)-1] == '"') {
		value = value[1 : len(value)-1]
	}
	switch t.Kind {
	case types.KindTinyint, types.KindSmallint, types.KindInt, types.KindBigint:
		return strconv.ParseInt(value, 10, 64)
	case types.KindFloat, types.KindDouble:
		return strconv.ParseFloat(value, 64)
	case types.KindBoolean:
		return strconv.ParseBool(value)
	case types.KindASCII, types.KindText, types.KindVarchar, types.KindTimestamp, types.KindDate, types.KindUUID, types.KindTimeUUID:
		return value, nil
	}
	return nil, fmt.Errorf("default values are not supported for %s columns in tags", t)
}
