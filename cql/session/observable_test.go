package session

import (
	"bytes"
	"context"
	"testing"

	"github.com/hatlonely/cqlx/cql/builder"
	"github.com/hatlonely/cqlx/log/logger"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNewObservableSessionWithOptions(t *testing.T) {
	Convey("NewObservableSessionWithOptions", t, func() {
		ctx := context.Background()
		driver := newFakeDriver()
		systemSchema(driver)
		registry := prometheus.NewRegistry()
		var buf bytes.Buffer
		l, err := logger.NewSLogWithWriter(&buf, &logger.SLogOptions{Format: "json"})
		So(err, ShouldBeNil)

		Convey("参数校验", func() {
			_, err := NewObservableSessionWithOptions(nil, &ObservableOptions{})
			So(err, ShouldNotBeNil)
			_, err = NewObservableSessionWithOptions(NewSession(driver, 0), nil)
			So(err, ShouldNotBeNil)
		})

		Convey("记录指标与日志", func() {
			obs, err := NewObservableSessionWithOptions(NewSession(driver, 0), &ObservableOptions{
				EnableMetrics: true,
				EnableLogging: true,
				EnableTracing: true,
				Name:          "test",
			}, WithRegisterer(registry), WithLogger(l), WithTracerProvider(noop.NewTracerProvider()))
			So(err, ShouldBeNil)

			insert := builder.Statement{Kind: builder.KindInsert, Table: "events", CQL: "INSERT INTO events (tenant) VALUES (?)", Values: []any{"acme"}}
			So(obs.Exec(ctx, insert), ShouldBeNil)
			So(driver.executed, ShouldHaveLength, 1)

			page, err := obs.Query(ctx, builder.Statement{Kind: builder.KindSelect, Table: "events", CQL: "SELECT * FROM system_schema.tables"})
			So(err, ShouldBeNil)
			So(page.Rows, ShouldHaveLength, 1)

			snap, err := obs.Introspect(ctx, "app")
			So(err, ShouldBeNil)
			_, ok := snap.Table("events")
			So(ok, ShouldBeTrue)

			driver.err = errors.New("write timeout")
			So(obs.Exec(ctx, insert), ShouldNotBeNil)

			So(testutil.ToFloat64(obs.metrics.operationCounter.WithLabelValues("insert", "events", "success")), ShouldEqual, 1)
			So(testutil.ToFloat64(obs.metrics.operationCounter.WithLabelValues("insert", "events", "error")), ShouldEqual, 1)
			So(testutil.ToFloat64(obs.metrics.operationCounter.WithLabelValues("select", "events", "success")), ShouldEqual, 1)
			So(testutil.ToFloat64(obs.metrics.operationCounter.WithLabelValues("introspect", "system_schema", "success")), ShouldEqual, 1)
			So(testutil.ToFloat64(obs.metrics.activeOperations.WithLabelValues("insert")), ShouldEqual, 0)

			So(buf.String(), ShouldContainSubstring, `"msg":"cql operation completed"`)
			So(buf.String(), ShouldContainSubstring, `"msg":"cql operation failed"`)
			So(buf.String(), ShouldContainSubstring, `"statement":"INSERT INTO events (tenant) VALUES (?)"`)
			So(buf.String(), ShouldContainSubstring, `"error":"exec [INSERT INTO events (tenant) VALUES (?)] failed: write timeout"`)

			obs.Close()
			So(driver.closed, ShouldBeTrue)
		})

		Convey("同名指标复用", func() {
			a, err := NewObservableSessionWithOptions(NewSession(driver, 0), &ObservableOptions{EnableMetrics: true}, WithRegisterer(registry))
			So(err, ShouldBeNil)
			b, err := NewObservableSessionWithOptions(NewSession(driver, 0), &ObservableOptions{EnableMetrics: true}, WithRegisterer(registry))
			So(err, ShouldBeNil)
			So(b.metrics.operationCounter, ShouldEqual, a.metrics.operationCounter)
			So(a.name, ShouldEqual, "cql")
		})

		Convey("全部关闭时只转发", func() {
			obs, err := NewObservableSessionWithOptions(NewSession(driver, 0), &ObservableOptions{})
			So(err, ShouldBeNil)
			So(obs.metrics, ShouldBeNil)
			So(obs.tracer, ShouldBeNil)
			So(obs.Exec(ctx, builder.Statement{Kind: builder.KindDelete, CQL: "DELETE FROM events WHERE tenant = ?"}), ShouldBeNil)
			So(buf.String(), ShouldBeEmpty)
		})
	})
}
