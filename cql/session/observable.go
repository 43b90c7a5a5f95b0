package session

import (
	"context"
	"time"

	"github.com/hatlonely/cqlx/cql/builder"
	"github.com/hatlonely/cqlx/cql/migrate"
	"github.com/hatlonely/cqlx/log"
	"github.com/hatlonely/cqlx/log/logger"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ObservableOptions struct {
	// EnableMetrics 是否启用指标收集
	EnableMetrics bool `cfg:"enableMetrics"`

	// EnableLogging 是否启用日志记录
	EnableLogging bool `cfg:"enableLogging"`

	// EnableTracing 是否启用分布式追踪
	EnableTracing bool `cfg:"enableTracing"`

	// Name 组件名称，作为指标名前缀、日志 component 字段和 span 的 component 属性
	Name string `cfg:"name" def:"cql"`
}

// ObservableMetrics 封装 prometheus 指标
type ObservableMetrics struct {
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	activeOperations  *prometheus.GaugeVec
	rowsHistogram     *prometheus.HistogramVec
}

// NewObservableMetrics 创建并注册指标，同名指标已注册时复用已有的指标
func NewObservableMetrics(name string, registerer prometheus.Registerer) (*ObservableMetrics, error) {
	metrics := &ObservableMetrics{
		operationCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_operations_total",
				Help: "Total number of cql operations",
			},
			[]string{"operation", "table", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_operation_duration_seconds",
				Help:    "Duration of cql operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"operation", "table"},
		),
		activeOperations: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: name + "_active_operations",
				Help: "Number of active cql operations",
			},
			[]string{"operation"},
		),
		rowsHistogram: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_page_rows",
				Help:    "Rows returned per page",
				Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
			},
			[]string{"table"},
		),
	}

	var err error
	if metrics.operationCounter, err = register(registerer, metrics.operationCounter); err != nil {
		return nil, err
	}
	if metrics.operationDuration, err = register(registerer, metrics.operationDuration); err != nil {
		return nil, err
	}
	if metrics.activeOperations, err = register(registerer, metrics.activeOperations); err != nil {
		return nil, err
	}
	if metrics.rowsHistogram, err = register(registerer, metrics.rowsHistogram); err != nil {
		return nil, err
	}
	return metrics, nil
}

func register[C prometheus.Collector](registerer prometheus.Registerer, c C) (C, error) {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, errors.Wrap(err, "register metrics failed")
	}
	return c, nil
}

// ObservableSession 装饰器，为任何 Session 添加观测能力
type ObservableSession struct {
	session Session

	logger        logger.Logger
	metrics       *ObservableMetrics
	tracer        trace.Tracer
	name          string
	enableMetrics bool
	enableLogging bool
	enableTracing bool

	registerer     prometheus.Registerer
	tracerProvider trace.TracerProvider
}

type ObservableOption func(*ObservableSession)

// WithRegisterer 指标注册位置，默认为 prometheus.DefaultRegisterer
func WithRegisterer(registerer prometheus.Registerer) ObservableOption {
	return func(obs *ObservableSession) {
		obs.registerer = registerer
	}
}

func WithTracerProvider(provider trace.TracerProvider) ObservableOption {
	return func(obs *ObservableSession) {
		obs.tracerProvider = provider
	}
}

func WithLogger(l logger.Logger) ObservableOption {
	return func(obs *ObservableSession) {
		obs.logger = l
	}
}

func NewObservableSessionWithOptions(session Session, options *ObservableOptions, opts ...ObservableOption) (*ObservableSession, error) {
	if session == nil {
		return nil, errors.New("session is nil")
	}
	if options == nil {
		return nil, errors.New("options is nil")
	}
	name := options.Name
	if name == "" {
		name = "cql"
	}

	obs := &ObservableSession{
		session:        session,
		name:           name,
		enableMetrics:  options.EnableMetrics,
		enableLogging:  options.EnableLogging,
		enableTracing:  options.EnableTracing,
		registerer:     prometheus.DefaultRegisterer,
		tracerProvider: otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(obs)
	}

	if obs.enableLogging {
		if obs.logger == nil {
			obs.logger = log.Default()
		}
		obs.logger = obs.logger.WithGroup("observableSession")
	}

	if obs.enableMetrics {
		metrics, err := NewObservableMetrics(name, obs.registerer)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to create metrics")
		}
		obs.metrics = metrics
	}

	if obs.enableTracing {
		obs.tracer = obs.tracerProvider.Tracer("cql." + name)
	}

	return obs, nil
}

// observeOperation 统一的操作观测逻辑，fn 返回读到的行数，写操作返回 -1
func (obs *ObservableSession) observeOperation(ctx context.Context, operation string, stmt builder.Statement, fn func(context.Context) (int, error)) error {
	start := time.Now()

	var span trace.Span
	if obs.enableTracing && obs.tracer != nil {
		ctx, span = obs.tracer.Start(ctx, "cql."+operation,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("component", obs.name),
				attribute.String("db.system", "cassandra"),
				attribute.String("db.operation", operation),
				attribute.String("db.cassandra.table", stmt.Table),
				attribute.String("db.statement", stmt.String()),
			),
		)
		defer span.End()
	}

	if obs.enableMetrics && obs.metrics != nil {
		obs.metrics.activeOperations.WithLabelValues(operation).Inc()
		defer obs.metrics.activeOperations.WithLabelValues(operation).Dec()
	}

	rows, err := fn(ctx)
	duration := time.Since(start)

	if obs.enableTracing && span != nil {
		span.SetAttributes(attribute.Int64("duration_ms", duration.Milliseconds()))
		if rows >= 0 {
			span.SetAttributes(attribute.Int("rows", rows))
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if obs.enableMetrics && obs.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		obs.metrics.operationCounter.WithLabelValues(operation, stmt.Table, status).Inc()
		obs.metrics.operationDuration.WithLabelValues(operation, stmt.Table).Observe(duration.Seconds())
		if rows >= 0 && err == nil {
			obs.metrics.rowsHistogram.WithLabelValues(stmt.Table).Observe(float64(rows))
		}
	}

	if obs.enableLogging && obs.logger != nil {
		if err != nil {
			obs.logger.ErrorContext(ctx, "cql operation failed",
				"component", obs.name,
				"operation", operation,
				"table", stmt.Table,
				"statement", stmt.String(),
				"duration_ms", duration.Milliseconds(),
				"error", err.Error(),
			)
		} else {
			obs.logger.InfoContext(ctx, "cql operation completed",
				"component", obs.name,
				"operation", operation,
				"table", stmt.Table,
				"statement", stmt.String(),
				"duration_ms", duration.Milliseconds(),
			)
		}
	}

	return err
}

func (obs *ObservableSession) Exec(ctx context.Context, stmt builder.Statement) error {
	return obs.observeOperation(ctx, string(stmt.Kind), stmt, func(ctx context.Context) (int, error) {
		return -1, obs.session.Exec(ctx, stmt)
	})
}

func (obs *ObservableSession) Query(ctx context.Context, stmt builder.Statement) (*Page, error) {
	var page *Page
	err := obs.observeOperation(ctx, string(stmt.Kind), stmt, func(ctx context.Context) (int, error) {
		var err error
		page, err = obs.session.Query(ctx, stmt)
		if err != nil {
			return -1, err
		}
		return len(page.Rows), nil
	})
	return page, err
}

func (obs *ObservableSession) Introspect(ctx context.Context, keyspace string) (*migrate.Snapshot, error) {
	var snap *migrate.Snapshot
	stmt := builder.Statement{Kind: "introspect", Keyspace: keyspace, Table: "system_schema"}
	err := obs.observeOperation(ctx, "introspect", stmt, func(ctx context.Context) (int, error) {
		var err error
		snap, err = obs.session.Introspect(ctx, keyspace)
		return -1, err
	})
	return snap, err
}

func (obs *ObservableSession) Close() {
	obs.session.Close()
}
