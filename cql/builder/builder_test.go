package builder

import (
	"errors"
	"testing"
	"time"

	"github.com/hatlonely/cqlx/cql"
	"github.com/hatlonely/cqlx/cql/schema"
	"github.com/hatlonely/cqlx/cql/types"
	. "github.com/smartystreets/goconvey/convey"
)

// itemsSchema id uuid 分区键，name 必填，active 默认 true
func itemsSchema() *schema.Schema {
	s, err := schema.Build("t", []schema.Column{
		{Name: "id", Type: types.UUID},
		{Name: "name", Type: types.Text, Required: true},
		{Name: "active", Type: types.Boolean, Default: true},
	}, schema.PartitionKey("id"), nil)
	if err != nil {
		panic(err)
	}
	return s
}

func eventsSchema() *schema.Schema {
	s, err := schema.Build("events", []schema.Column{
		{Name: "tenant", Type: types.Text},
		{Name: "day", Type: types.Date},
		{Name: "ts", Type: types.Timestamp},
		{Name: "seq", Type: types.Int},
		{Name: "owner", Type: types.Text, Static: true},
		{Name: "payload", Type: types.Text},
		{Name: "kind", Type: types.Text, Indexed: true},
		{Name: "attrs", Type: types.MapOf(types.Text, types.Text)},
		{Name: "tags", Type: types.SetOf(types.Text)},
		{Name: "history", Type: types.ListOf(types.Int)},
	},
		schema.PartitionKey("tenant", "day").ClusterBy("ts", schema.Desc).ClusterBy("seq", schema.Asc),
		[]schema.Index{{Column: "attrs", Target: schema.TargetKeys}},
		schema.WithKeyspace("app"), schema.WithDefaultTTL(3600), schema.WithComment("event log"),
	)
	if err != nil {
		panic(err)
	}
	return s
}

const itemID = "5b6962dd-3f90-4c93-8f61-eabfa4a803e2"

var (
	day = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ts  = time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC)
)

func unsupportedRule(err error) string {
	var ue *cql.UnsupportedQueryError
	if errors.As(err, &ue) {
		return ue.Rule
	}
	return ""
}

func filteringColumn(err error) string {
	var fe *cql.RequiresRelaxedFilteringError
	if errors.As(err, &fe) {
		return fe.Column
	}
	return ""
}

func incompleteColumn(err error) string {
	var ie *cql.IncompleteKeyError
	if errors.As(err, &ie) {
		return ie.Column
	}
	return ""
}

func TestCreateTable(t *testing.T) {
	Convey("测试 CreateTable", t, func() {
		Convey("单列分区键", func() {
			stmt := CreateTable(itemsSchema())
			So(stmt.Kind, ShouldEqual, KindSchema)
			So(stmt.CQL, ShouldEqual, `CREATE TABLE IF NOT EXISTS t (
    id uuid,
    name text,
    active boolean,
    PRIMARY KEY ((id))
)`)
			So(stmt.Values, ShouldBeEmpty)
		})

		Convey("复合主键、静态列与表选项", func() {
			stmt := CreateTable(eventsSchema())
			So(stmt.Keyspace, ShouldEqual, "app")
			So(stmt.Table, ShouldEqual, "events")
			So(stmt.CQL, ShouldEqual, `CREATE TABLE IF NOT EXISTS app.events (
    tenant text,
    day date,
    ts timestamp,
    seq int,
    owner text STATIC,
    payload text,
    kind text,
    attrs map<text, text>,
    tags set<text>,
    history list<int>,
    PRIMARY KEY ((tenant, day), ts, seq)
) WITH CLUSTERING ORDER BY (ts DESC, seq ASC)
    AND default_time_to_live = 3600
    AND comment = 'event log'`)
		})

		Convey("保留字列名加引号", func() {
			s, err := schema.Build("orders", []schema.Column{
				{Name: "key", Type: types.Text},
				{Name: "order", Type: types.Int},
				{Name: "UserName", Type: types.Text},
			}, schema.PartitionKey("key"), nil, schema.WithTableOption("gc_grace_seconds", "0"))
			So(err, ShouldBeNil)
			So(CreateTable(s).CQL, ShouldEqual, `CREATE TABLE IF NOT EXISTS orders (
    key text,
    "order" int,
    "UserName" text,
    PRIMARY KEY ((key))
) WITH gc_grace_seconds = 0`)
		})
	})
}

func TestCreateIndex(t *testing.T) {
	Convey("测试 CreateIndex", t, func() {
		Convey("默认索引名", func() {
			stmt, err := CreateIndex(itemsSchema(), "name")
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEqual, "CREATE INDEX IF NOT EXISTS t_name_idx ON t (name)")
		})

		Convey("使用模型声明的索引", func() {
			stmts := CreateIndexes(eventsSchema())
			So(len(stmts), ShouldEqual, 2)
			So(stmts[0].CQL, ShouldEqual, "CREATE INDEX IF NOT EXISTS events_kind_idx ON app.events (kind)")
			So(stmts[1].CQL, ShouldEqual, "CREATE INDEX IF NOT EXISTS events_attrs_keys_idx ON app.events (KEYS(attrs))")
		})

		Convey("冻结集合使用 FULL", func() {
			s, err := schema.Build("snapshots", []schema.Column{
				{Name: "id", Type: types.Int},
				{Name: "bucket", Type: types.Int},
				{Name: "points", Type: types.FrozenOf(types.ListOf(types.Int))},
			}, schema.PartitionKey("id", "bucket"), nil)
			So(err, ShouldBeNil)
			stmt, err := CreateIndex(s, "points")
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEqual, "CREATE INDEX IF NOT EXISTS snapshots_points_idx ON snapshots (FULL(points))")
		})

		Convey("唯一分区键列不能建索引", func() {
			_, err := CreateIndex(itemsSchema(), "id")
			var se *cql.SchemaDefinitionError
			So(errors.As(err, &se), ShouldBeTrue)
			So(se.Rule, ShouldEqual, cql.RuleSolePartitionIndex)
		})

		Convey("未知列", func() {
			_, err := CreateIndex(itemsSchema(), "missing")
			So(unsupportedRule(err), ShouldEqual, cql.RuleUnknownColumn)
		})
	})
}

func TestAlterStatements(t *testing.T) {
	Convey("测试 ALTER 与 TYPE 语句", t, func() {
		address := &types.UserType{Name: "address", Fields: []types.Field{
			{Name: "street", Type: types.Text},
			{Name: "lines", Type: types.ListOf(types.Text)},
		}}
		So(CreateType("app", address).CQL, ShouldEqual, "CREATE TYPE IF NOT EXISTS app.address (street text, lines list<text>)")
		So(AlterTypeAdd("app", "address", types.Field{Name: "zip", Type: types.Int}).CQL, ShouldEqual, "ALTER TYPE app.address ADD zip int")

		s := eventsSchema()
		stmt, err := AlterTableAdd(s, "owner")
		So(err, ShouldBeNil)
		So(stmt.CQL, ShouldEqual, "ALTER TABLE app.events ADD owner text STATIC")
		_, err = AlterTableAdd(s, "missing")
		So(unsupportedRule(err), ShouldEqual, cql.RuleUnknownColumn)

		So(AlterTableOptions(s, TableOptions(s)).CQL, ShouldEqual, "ALTER TABLE app.events WITH default_time_to_live = 3600 AND comment = 'event log'")
		So(StringLiteral("it's"), ShouldEqual, "'it''s'")
		So(TableOptions(itemsSchema()), ShouldBeEmpty)
	})
}
