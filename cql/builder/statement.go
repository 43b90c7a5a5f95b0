package builder

import (
	"fmt"
	"strings"

	"github.com/hatlonely/cqlx/cql"
	"github.com/hatlonely/cqlx/cql/query"
)

// Kind 语句类别
type Kind string

const (
	KindSchema Kind = "schema"
	KindSelect Kind = "select"
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
	KindBatch  Kind = "batch"
)

// Statement 渲染完成的语句，Values 与占位符一一对应
type Statement struct {
	Kind     Kind
	Keyspace string
	Table    string
	CQL      string
	Values   []any

	// PartitionValues 分区键全部以 = 限定时按分区键顺序给出的值，否则为 nil
	PartitionValues []any

	PageSize  int
	PageState []byte
}

// IsWrite 是否为可以放入 BATCH 的写语句
func (s Statement) IsWrite() bool {
	return s.Kind == KindInsert || s.Kind == KindUpdate || s.Kind == KindDelete
}

func (s Statement) String() string {
	return cql.OneLine(s.CQL)
}

// WriteOptions 写语句选项
type WriteOptions struct {
	TTL         *int   // 秒
	Timestamp   *int64 // 微秒
	IfNotExists bool
	IfExists    bool
	Conditions  []query.Filter
	Columns     []string // 只对 DELETE 生效
}

type WriteOption func(*WriteOptions)

// WithTTL 设置 USING TTL，0 表示不过期并覆盖表的默认 TTL
func WithTTL(seconds int) WriteOption {
	return func(o *WriteOptions) {
		o.TTL = &seconds
	}
}

// WithTimestamp 设置 USING TIMESTAMP，单位微秒
func WithTimestamp(micros int64) WriteOption {
	return func(o *WriteOptions) {
		o.Timestamp = &micros
	}
}

func IfNotExists() WriteOption {
	return func(o *WriteOptions) {
		o.IfNotExists = true
	}
}

func IfExists() WriteOption {
	return func(o *WriteOptions) {
		o.IfExists = true
	}
}

// If 轻量事务条件，条件之间为 AND
func If(conditions ...query.Filter) WriteOption {
	return func(o *WriteOptions) {
		o.Conditions = append(o.Conditions, conditions...)
	}
}

// DeleteColumns 只删除指定的列而不是整行
func DeleteColumns(columns ...string) WriteOption {
	return func(o *WriteOptions) {
		o.Columns = append(o.Columns, columns...)
	}
}

func newWriteOptions(opts []WriteOption) *WriteOptions {
	o := &WriteOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *WriteOptions) using(table string, allowTTL bool) (string, error) {
	var parts []string
	if o.TTL != nil {
		if !allowTTL {
			return "", &cql.UnsupportedQueryError{Table: table, Rule: cql.RuleWriteOption, Detail: "TTL is not supported on DELETE"}
		}
		if *o.TTL < 0 {
			return "", &cql.UnsupportedQueryError{Table: table, Rule: cql.RuleWriteOption, Detail: "TTL must not be negative"}
		}
		parts = append(parts, fmt.Sprintf("TTL %d", *o.TTL))
	}
	if o.Timestamp != nil {
		parts = append(parts, fmt.Sprintf("TIMESTAMP %d", *o.Timestamp))
	}
	if len(parts) == 0 {
		return "", nil
	}
	return " USING " + strings.Join(parts, " AND "), nil
}
