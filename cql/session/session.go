package session

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/hatlonely/cqlx/cfg"
	"github.com/hatlonely/cqlx/cql"
	"github.com/hatlonely/cqlx/cql/builder"
	"github.com/hatlonely/cqlx/cql/migrate"
	"github.com/pkg/errors"
)

// Session 执行渲染好的语句并读取 system_schema
type Session interface {
	Exec(ctx context.Context, stmt builder.Statement) error
	// Query 读取一页结果，stmt.PageSize 为 0 时使用会话默认的分页大小
	Query(ctx context.Context, stmt builder.Statement) (*Page, error)
	Introspect(ctx context.Context, keyspace string) (*migrate.Snapshot, error)
	Close()
}

// Driver 底层驱动，行以列名到驱动原生值的 map 返回
type Driver interface {
	Exec(ctx context.Context, stmt builder.Statement) error
	Query(ctx context.Context, stmt builder.Statement) (rows []map[string]any, pageState []byte, err error)
	Close()
}

// Page 一页查询结果
type Page struct {
	Rows []map[string]any
	// PageState 为空表示没有更多数据
	PageState []byte
}

// Applied 条件写入是否生效，结果中没有 [applied] 列时视为生效
func (p *Page) Applied() bool {
	if p == nil || len(p.Rows) == 0 {
		return true
	}
	applied, ok := p.Rows[0]["[applied]"].(bool)
	return !ok || applied
}

// CQLSession 基于 Driver 的 Session 实现
type CQLSession struct {
	driver   Driver
	pageSize int
}

// NewSession 包装已有的驱动，pageSize 为 0 时不分页
func NewSession(driver Driver, pageSize int) *CQLSession {
	return &CQLSession{driver: driver, pageSize: pageSize}
}

// NewSessionWithOptions 连接集群
func NewSessionWithOptions(options *Options) (*CQLSession, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	o := *options
	if err := cfg.SetDefaults(&o); err != nil {
		return nil, errors.Wrap(err, "set session defaults failed")
	}
	if err := validator.New().Struct(&o); err != nil {
		return nil, errors.Wrap(err, "validate session options failed")
	}
	driver, err := newGocqlDriver(&o)
	if err != nil {
		return nil, err
	}
	return NewSession(driver, o.PageSize), nil
}

func (s *CQLSession) Exec(ctx context.Context, stmt builder.Statement) error {
	if err := s.driver.Exec(ctx, stmt); err != nil {
		return errors.Wrapf(err, "exec [%s] failed", stmt)
	}
	return nil
}

func (s *CQLSession) Query(ctx context.Context, stmt builder.Statement) (*Page, error) {
	if stmt.PageSize == 0 {
		stmt.PageSize = s.pageSize
	}
	rows, state, err := s.driver.Query(ctx, stmt)
	if err != nil {
		return nil, errors.Wrapf(err, "query [%s] failed", stmt)
	}
	return &Page{Rows: rows, PageState: state}, nil
}

// QueryAll 逐页读取全部结果，每次读取前检查 ctx
func QueryAll(ctx context.Context, s Session, stmt builder.Statement) ([]map[string]any, error) {
	var rows []map[string]any
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "query canceled")
		}
		page, err := s.Query(ctx, stmt)
		if err != nil {
			return nil, err
		}
		rows = append(rows, page.Rows...)
		if len(page.PageState) == 0 {
			return rows, nil
		}
		stmt.PageState = page.PageState
	}
}

func (s *CQLSession) Close() {
	s.driver.Close()
}

// query 用于 system_schema 的简单查询
func (s *CQLSession) query(ctx context.Context, statement string, values ...any) ([]map[string]any, error) {
	return QueryAll(ctx, s, builder.Statement{Kind: builder.KindSelect, CQL: cql.OneLine(statement), Values: values})
}
