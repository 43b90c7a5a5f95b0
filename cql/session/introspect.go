package session

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hatlonely/cqlx/cql/migrate"
	"github.com/hatlonely/cqlx/cql/schema"
	"github.com/pkg/errors"
)

// system_schema.tables 中不属于表选项的列
var tableMetaColumns = map[string]bool{
	"keyspace_name": true,
	"table_name":    true,
	"id":            true,
	"flags":         true,
	"extensions":    true,
}

var indexTargetPattern = regexp.MustCompile(`^(keys|values|entries|full)\((.+)\)$`)

// Introspect 读取 keyspace 的实时 schema，keyspace 不存在时返回空快照
func (s *CQLSession) Introspect(ctx context.Context, keyspace string) (*migrate.Snapshot, error) {
	snap := migrate.NewSnapshot(keyspace)

	tables, err := s.query(ctx, `SELECT * FROM system_schema.tables WHERE keyspace_name = ?`, keyspace)
	if err != nil {
		return nil, errors.WithMessage(err, "read tables failed")
	}
	for _, row := range tables {
		name := asString(row["table_name"])
		t := &migrate.LiveTable{Name: name, Options: map[string]string{}}
		for k, v := range row {
			if tableMetaColumns[k] || v == nil {
				continue
			}
			t.Options[k] = migrate.RenderOptionValue(v)
		}
		snap.Tables[name] = t
	}

	columns, err := s.query(ctx, `SELECT table_name, column_name, kind, position, clustering_order, type FROM system_schema.columns WHERE keyspace_name = ?`, keyspace)
	if err != nil {
		return nil, errors.WithMessage(err, "read columns failed")
	}
	for _, row := range columns {
		t, ok := snap.Tables[asString(row["table_name"])]
		if !ok {
			continue
		}
		c := migrate.LiveColumn{
			Name:     asString(row["column_name"]),
			Type:     asString(row["type"]),
			Kind:     schema.ColumnKind(asString(row["kind"])),
			Position: asInt(row["position"]),
		}
		if c.Kind == schema.KindClustering {
			c.Order = schema.Asc
			if strings.EqualFold(asString(row["clustering_order"]), "desc") {
				c.Order = schema.Desc
			}
		}
		if c.Kind == schema.KindRegular || c.Kind == schema.KindStatic {
			c.Position = -1
		}
		t.Columns = append(t.Columns, c)
	}

	indexes, err := s.query(ctx, `SELECT table_name, index_name, options FROM system_schema.indexes WHERE keyspace_name = ?`, keyspace)
	if err != nil {
		return nil, errors.WithMessage(err, "read indexes failed")
	}
	for _, row := range indexes {
		t, ok := snap.Tables[asString(row["table_name"])]
		if !ok {
			continue
		}
		options, _ := row["options"].(map[string]string)
		column, target := ParseIndexTarget(options["target"])
		t.Indexes = append(t.Indexes, migrate.LiveIndex{Name: asString(row["index_name"]), Column: column, Target: target})
	}

	userTypes, err := s.query(ctx, `SELECT type_name, field_names, field_types FROM system_schema.types WHERE keyspace_name = ?`, keyspace)
	if err != nil {
		return nil, errors.WithMessage(err, "read types failed")
	}
	for _, row := range userTypes {
		names, _ := row["field_names"].([]string)
		fieldTypes, _ := row["field_types"].([]string)
		if len(names) != len(fieldTypes) {
			return nil, errors.Errorf("type %s has %d field names but %d field types", asString(row["type_name"]), len(names), len(fieldTypes))
		}
		lt := &migrate.LiveType{Name: asString(row["type_name"])}
		for i := range names {
			lt.Fields = append(lt.Fields, migrate.LiveField{Name: names[i], Type: fieldTypes[i]})
		}
		snap.Types[lt.Name] = lt
	}

	// 不依赖驱动返回的行顺序
	for _, t := range snap.Tables {
		sort.SliceStable(t.Columns, func(i, j int) bool { return t.Columns[i].Name < t.Columns[j].Name })
		sort.SliceStable(t.Indexes, func(i, j int) bool { return t.Indexes[i].Name < t.Indexes[j].Name })
	}
	return snap, nil
}

// ParseIndexTarget 解析 system_schema.indexes 的 target 选项，如 keys(attrs)
func ParseIndexTarget(target string) (string, schema.IndexTarget) {
	target = strings.TrimSpace(target)
	if m := indexTargetPattern.FindStringSubmatch(target); m != nil {
		return unquoteIdent(m[2]), schema.IndexTarget(m[1])
	}
	return unquoteIdent(target), schema.TargetDefault
}

func unquoteIdent(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
	}
	return s
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func asInt(v any) int {
	switch x := v.(type) {
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	default:
		return -1
	}
}
