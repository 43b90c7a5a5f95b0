package repository

import (
	"context"
	"fmt"

	"github.com/hatlonely/cqlx/cql"
	"github.com/hatlonely/cqlx/cql/builder"
	"github.com/hatlonely/cqlx/cql/query"
	"github.com/hatlonely/cqlx/cql/queryset"
	"github.com/hatlonely/cqlx/cql/schema"
	"github.com/hatlonely/cqlx/cql/session"
	"github.com/pkg/errors"
)

// Repository 以结构体 T 读写一张表
type Repository[T any] struct {
	session session.Session
	schema  *schema.Schema
}

// New 由 T 的 cql tag 推导表模型
func New[T any](s session.Session, opts ...schema.Option) (*Repository[T], error) {
	var zero T
	sch, err := schema.FromStruct(&zero, opts...)
	if err != nil {
		return nil, errors.WithMessagef(err, "build schema for %T failed", zero)
	}
	return NewWithSchema[T](s, sch), nil
}

// NewWithSchema 使用已有的表模型，T 的字段必须都是模型中的列
func NewWithSchema[T any](s session.Session, sch *schema.Schema) *Repository[T] {
	return &Repository[T]{session: s, schema: sch}
}

func (r *Repository[T]) Schema() *schema.Schema {
	return r.schema
}

// Objects 返回该表上的空查询
func (r *Repository[T]) Objects() queryset.QuerySet {
	return queryset.New(r.schema)
}

// Create 写入一行，nil 字段与取零值的生成器列使用默认值
// 使用 IfNotExists 时行已存在返回 cql.ErrNotApplied
func (r *Repository[T]) Create(ctx context.Context, v *T, opts ...builder.WriteOption) error {
	values, err := r.schema.Encode(v)
	if err != nil {
		return err
	}
	values, err = r.schema.Prepare(values)
	if err != nil {
		return err
	}
	stmt, err := builder.Insert(r.schema, values, opts...)
	if err != nil {
		return err
	}
	if err := r.write(ctx, stmt, opts); err != nil {
		return err
	}
	return r.schema.Decode(values, v)
}

// CreateBatch 在一个 BATCH 中写入多行，所有行必须属于同一分区
// opts 作用于每一行，带条件时整个批次要么全部生效要么返回 cql.ErrNotApplied
func (r *Repository[T]) CreateBatch(ctx context.Context, items []*T, opts ...builder.WriteOption) error {
	rows := make([]map[string]any, 0, len(items))
	stmts := make([]builder.Statement, 0, len(items))
	for i, v := range items {
		values, err := r.schema.Encode(v)
		if err != nil {
			return errors.WithMessagef(err, "item %d", i)
		}
		values, err = r.schema.Prepare(values)
		if err != nil {
			return errors.WithMessagef(err, "item %d", i)
		}
		stmt, err := builder.Insert(r.schema, values, opts...)
		if err != nil {
			return errors.WithMessagef(err, "item %d", i)
		}
		rows = append(rows, values)
		stmts = append(stmts, stmt)
	}
	batch, err := builder.Batch(stmts)
	if err != nil {
		return err
	}
	if err := r.write(ctx, batch, opts); err != nil {
		return err
	}
	for i, v := range items {
		if err := r.schema.Decode(rows[i], v); err != nil {
			return err
		}
	}
	return nil
}

// Get 按完整主键读取一行，key 按主键列顺序给出
func (r *Repository[T]) Get(ctx context.Context, key ...any) (*T, error) {
	qs, err := r.byKey(key)
	if err != nil {
		return nil, err
	}
	rows, err := r.find(ctx, qs.Limit(1), false)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.Wrapf(cql.ErrNotFound, "%s %v", r.schema.Table(), key)
	}
	return &rows[0], nil
}

// First 返回查询的第一行，没有结果时返回 cql.ErrNotFound
func (r *Repository[T]) First(ctx context.Context, qs queryset.QuerySet) (*T, error) {
	rows, err := r.find(ctx, r.on(qs).Limit(1), false)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.Wrapf(cql.ErrNotFound, "%s", r.schema.Table())
	}
	return &rows[0], nil
}

// Exists 查询是否至少有一行，只读取主键列
func (r *Repository[T]) Exists(ctx context.Context, qs queryset.QuerySet) (bool, error) {
	stmt, err := r.selectFrom(r.on(qs).Only(r.schema.PrimaryKey()...).Limit(1))
	if err != nil {
		return false, err
	}
	page, err := r.session.Query(ctx, stmt)
	if err != nil {
		return false, err
	}
	return page != nil && len(page.Rows) > 0, nil
}

// Find 读取查询的全部结果
func (r *Repository[T]) Find(ctx context.Context, qs queryset.QuerySet) ([]T, error) {
	return r.find(ctx, qs, true)
}

// FindPage 读取一页结果，返回下一页的 PageState，为空表示没有更多数据
func (r *Repository[T]) FindPage(ctx context.Context, qs queryset.QuerySet) ([]T, []byte, error) {
	stmt, err := r.selectFrom(qs)
	if err != nil {
		return nil, nil, err
	}
	page, err := r.session.Query(ctx, stmt)
	if err != nil {
		return nil, nil, err
	}
	out, err := r.decode(page.Rows)
	if err != nil {
		return nil, nil, err
	}
	return out, page.PageState, nil
}

// Count 返回匹配的行数
func (r *Repository[T]) Count(ctx context.Context, qs queryset.QuerySet) (int64, error) {
	stmt, err := r.selectFrom(r.on(qs).Count())
	if err != nil {
		return 0, err
	}
	rows, err := session.QueryAll(ctx, r.session, stmt)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, row := range rows {
		switch n := row["count"].(type) {
		case int64:
			total += n
		case int:
			total += int64(n)
		default:
			return 0, errors.Errorf("unexpected count value %T", row["count"])
		}
	}
	return total, nil
}

// Update 按查询条件更新，条件写入未生效时返回 cql.ErrNotApplied
func (r *Repository[T]) Update(ctx context.Context, qs queryset.QuerySet, assignments []query.Assignment, opts ...builder.WriteOption) error {
	stmt, err := r.on(qs).Update(assignments, opts...)
	if err != nil {
		return err
	}
	return r.write(ctx, stmt, opts)
}

// Save 以 v 的非主键列更新主键对应的行，字段值原样写入，不使用默认值
// nil 字段与取零值的生成器列不写入
func (r *Repository[T]) Save(ctx context.Context, v *T, opts ...builder.WriteOption) error {
	values, err := r.schema.Encode(v)
	if err != nil {
		return err
	}
	key := make([]any, 0, len(r.schema.PrimaryKey()))
	for _, name := range r.schema.PrimaryKey() {
		key = append(key, values[name])
	}
	qs, err := r.byKey(key)
	if err != nil {
		return err
	}
	var assignments []query.Assignment
	for _, c := range r.schema.Columns() {
		kind := r.schema.KindOf(c.Name)
		if kind == schema.KindPartitionKey || kind == schema.KindClustering {
			continue
		}
		if value, ok := values[c.Name]; ok {
			assignments = append(assignments, query.Set(c.Name, value))
		}
	}
	stmt, err := qs.Update(assignments, opts...)
	if err != nil {
		return err
	}
	return r.write(ctx, stmt, opts)
}

// Delete 按完整主键删除一行
func (r *Repository[T]) Delete(ctx context.Context, key []any, opts ...builder.WriteOption) error {
	qs, err := r.byKey(key)
	if err != nil {
		return err
	}
	stmt, err := qs.Delete(opts...)
	if err != nil {
		return err
	}
	return r.write(ctx, stmt, opts)
}

// DeleteWhere 按查询条件删除
func (r *Repository[T]) DeleteWhere(ctx context.Context, qs queryset.QuerySet, opts ...builder.WriteOption) error {
	stmt, err := r.on(qs).Delete(opts...)
	if err != nil {
		return err
	}
	return r.write(ctx, stmt, opts)
}

func (r *Repository[T]) byKey(key []any) (queryset.QuerySet, error) {
	names := r.schema.PrimaryKey()
	if len(key) != len(names) {
		missing := ""
		if len(key) < len(names) {
			missing = names[len(key)]
		}
		return queryset.QuerySet{}, &cql.IncompleteKeyError{
			Table:     r.schema.Table(),
			Column:    missing,
			Operation: "lookup",
			Detail:    fmt.Sprintf("expected %d primary key values, got %d", len(names), len(key)),
		}
	}
	filters := make([]query.Filter, 0, len(key))
	for i, name := range names {
		filters = append(filters, query.Eq(name, key[i]))
	}
	qs := r.Objects().Filter(filters...)
	return qs, qs.Err()
}

// on 将查询绑定到本表，nil 模型的零值 QuerySet 视为空查询
func (r *Repository[T]) on(qs queryset.QuerySet) queryset.QuerySet {
	if qs.Schema() == nil {
		return r.Objects()
	}
	return qs
}

func (r *Repository[T]) selectFrom(qs queryset.QuerySet) (builder.Statement, error) {
	qs = r.on(qs)
	if qs.Schema() != r.schema {
		return builder.Statement{}, errors.Errorf("query on table %s used with repository of %s", qs.Schema().Table(), r.schema.Table())
	}
	return qs.Select()
}

func (r *Repository[T]) find(ctx context.Context, qs queryset.QuerySet, all bool) ([]T, error) {
	stmt, err := r.selectFrom(qs)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if all {
		rows, err = session.QueryAll(ctx, r.session, stmt)
	} else {
		var page *session.Page
		page, err = r.session.Query(ctx, stmt)
		if page != nil {
			rows = page.Rows
		}
	}
	if err != nil {
		return nil, err
	}
	return r.decode(rows)
}

func (r *Repository[T]) decode(rows []map[string]any) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		native, err := r.schema.Hydrate(row)
		if err != nil {
			return nil, err
		}
		var v T
		if err := r.schema.Decode(native, &v); err != nil {
			return nil, errors.WithMessagef(err, "decode %s row failed", r.schema.Table())
		}
		out = append(out, v)
	}
	return out, nil
}

// write 执行写语句，条件写入需要读取 [applied] 列
func (r *Repository[T]) write(ctx context.Context, stmt builder.Statement, opts []builder.WriteOption) error {
	var o builder.WriteOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !o.IfNotExists && !o.IfExists && len(o.Conditions) == 0 {
		return r.session.Exec(ctx, stmt)
	}
	page, err := r.session.Query(ctx, stmt)
	if err != nil {
		return err
	}
	if !page.Applied() {
		return errors.Wrapf(cql.ErrNotApplied, "%s on %s", stmt.Kind, r.schema.Table())
	}
	return nil
}
