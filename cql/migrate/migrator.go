package migrate

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/hatlonely/cqlx/cql/builder"
	"github.com/hatlonely/cqlx/cql/schema"
	"github.com/hatlonely/cqlx/log"
	"github.com/hatlonely/cqlx/log/logger"
	"github.com/pkg/errors"
)

var ErrDestructiveChange = errors.New("destructive schema change required")

// Session 迁移需要的存储能力
type Session interface {
	Exec(ctx context.Context, stmt builder.Statement) error
	Introspect(ctx context.Context, keyspace string) (*Snapshot, error)
}

type MigratorOptions struct {
	// 模型未声明 keyspace 时使用的 keyspace
	Keyspace string `cfg:"keyspace" validate:"omitempty,max=48"`
	// 存在需要人工处理的差异时不执行任何语句
	FailOnDestructive bool `cfg:"failOnDestructive"`
	// 只打印语句不执行
	DryRun bool `cfg:"dryRun"`
}

type Migrator struct {
	session Session
	options MigratorOptions
	logger  logger.Logger
}

type MigratorOption func(*Migrator)

func WithLogger(l logger.Logger) MigratorOption {
	return func(m *Migrator) {
		m.logger = l
	}
}

func NewMigratorWithOptions(session Session, options *MigratorOptions, opts ...MigratorOption) (*Migrator, error) {
	if session == nil {
		return nil, errors.New("session is required")
	}
	if options == nil {
		options = &MigratorOptions{}
	}
	if err := validator.New().Struct(options); err != nil {
		return nil, errors.Wrap(err, "validate migrator options failed")
	}
	m := &Migrator{
		session: session,
		options: *options,
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Plan 读取实时 schema 并计算变更，不执行任何语句
func (m *Migrator) Plan(ctx context.Context, schemas ...*schema.Schema) (*SchemaDiff, error) {
	var keyspaces []string
	groups := map[string][]*schema.Schema{}
	for _, s := range schemas {
		keyspace := s.Keyspace()
		if keyspace == "" {
			keyspace = m.options.Keyspace
		}
		if keyspace == "" {
			return nil, errors.Errorf("table %s has no keyspace and no default keyspace is configured", s.Table())
		}
		if _, ok := groups[keyspace]; !ok {
			keyspaces = append(keyspaces, keyspace)
		}
		groups[keyspace] = append(groups[keyspace], s)
	}

	diff := &SchemaDiff{}
	for _, keyspace := range keyspaces {
		live, err := m.session.Introspect(ctx, keyspace)
		if err != nil {
			return nil, errors.WithMessagef(err, "introspect keyspace %s failed", keyspace)
		}
		diff.merge(DiffAll(groups[keyspace], live))
	}
	return diff, nil
}

// Sync 计算变更并按顺序执行，遇到第一个错误即停止
func (m *Migrator) Sync(ctx context.Context, schemas ...*schema.Schema) (*SchemaDiff, error) {
	diff, err := m.Plan(ctx, schemas...)
	if err != nil {
		return nil, err
	}

	for _, d := range diff.Diagnostics {
		m.logger.WarnContext(ctx, "destructive change required",
			"kind", d.Kind, "keyspace", d.Keyspace, "table", d.Table, "type", d.Type,
			"column", d.Column, "declared", d.Declared, "live", d.Live)
	}
	if m.options.FailOnDestructive && len(diff.Diagnostics) > 0 {
		return diff, errors.Wrapf(ErrDestructiveChange, "%d change(s) need manual intervention", len(diff.Diagnostics))
	}
	if diff.Empty() {
		m.logger.InfoContext(ctx, "schema is up to date")
		return diff, nil
	}

	for i, op := range diff.Operations {
		if m.options.DryRun {
			m.logger.InfoContext(ctx, "plan schema change", "step", i+1, "kind", op.Kind, "table", op.Table, "name", op.Name, "statement", op.Statement.String())
			continue
		}
		if err := m.session.Exec(ctx, op.Statement); err != nil {
			return diff, errors.WithMessagef(err, "apply %s %s failed", op.Kind, op.Name)
		}
		m.logger.InfoContext(ctx, "applied schema change", "step", i+1, "kind", op.Kind, "table", op.Table, "name", op.Name, "statement", op.Statement.String())
	}
	return diff, nil
}
