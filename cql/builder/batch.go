package builder

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/hatlonely/cqlx/cql"
)

type BatchOptions struct {
	Unlogged  bool
	Timestamp *int64
}

type BatchOption func(*BatchOptions)

// Unlogged 使用 UNLOGGED BATCH，同一分区内的写入没有原子性的额外开销
func Unlogged() BatchOption {
	return func(o *BatchOptions) {
		o.Unlogged = true
	}
}

// WithBatchTimestamp 为整个批次设置 USING TIMESTAMP
func WithBatchTimestamp(micros int64) BatchOption {
	return func(o *BatchOptions) {
		o.Timestamp = &micros
	}
}

// Batch 将多个写语句合并为一个批次
// 批次内所有语句必须写同一个表的同一个分区
func Batch(stmts []Statement, opts ...BatchOption) (Statement, error) {
	o := &BatchOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if len(stmts) == 0 {
		return Statement{}, &cql.BatchCompositionError{Index: -1, Rule: cql.RuleBatchEmpty, Detail: "batch contains no statements"}
	}

	first := stmts[0]
	var values []any
	var b strings.Builder
	b.WriteString("BEGIN ")
	if o.Unlogged {
		b.WriteString("UNLOGGED ")
	}
	b.WriteString("BATCH")
	if o.Timestamp != nil {
		fmt.Fprintf(&b, " USING TIMESTAMP %d", *o.Timestamp)
	}
	b.WriteString("\n")

	for i, stmt := range stmts {
		if !stmt.IsWrite() {
			return Statement{}, &cql.BatchCompositionError{Table: stmt.Table, Index: i, Rule: cql.RuleBatchStatement, Detail: fmt.Sprintf("%s statements cannot be batched", stmt.Kind)}
		}
		if stmt.Keyspace != first.Keyspace || stmt.Table != first.Table {
			return Statement{}, &cql.BatchCompositionError{Table: stmt.Table, Index: i, Rule: cql.RuleBatchTable, Detail: fmt.Sprintf("statement writes %s but the batch targets %s", cql.QualifiedTable(stmt.Keyspace, stmt.Table), cql.QualifiedTable(first.Keyspace, first.Table))}
		}
		if stmt.PartitionValues == nil || !reflect.DeepEqual(stmt.PartitionValues, first.PartitionValues) {
			return Statement{}, &cql.BatchCompositionError{Table: stmt.Table, Index: i, Rule: cql.RuleBatchPartition, Detail: "statements must target a single partition identified by equality on every partition key column"}
		}
		fmt.Fprintf(&b, "  %s;\n", stmt.String())
		values = append(values, stmt.Values...)
	}
	b.WriteString("APPLY BATCH")

	return Statement{
		Kind:            KindBatch,
		Keyspace:        first.Keyspace,
		Table:           first.Table,
		CQL:             b.String(),
		Values:          values,
		PartitionValues: first.PartitionValues,
	}, nil
}
