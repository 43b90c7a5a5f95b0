package builder

import (
	"testing"

	"github.com/google/uuid"
	"github.com/hatlonely/cqlx/cql"
	"github.com/hatlonely/cqlx/cql/query"
	. "github.com/smartystreets/goconvey/convey"
)

func partition() []query.Filter {
	return []query.Filter{query.Eq("tenant", "acme"), query.Eq("day", "2024-01-01")}
}

func TestSelect(t *testing.T) {
	Convey("测试 Select", t, func() {
		Convey("按非主键列过滤需要 ALLOW FILTERING", func() {
			_, err := Select(itemsSchema(), SelectQuery{Filters: []query.Filter{query.Eq("name", "bob")}})
			So(err, ShouldNotBeNil)
			So(filteringColumn(err), ShouldEqual, "name")

			stmt, err := Select(itemsSchema(), SelectQuery{Filters: []query.Filter{query.Eq("name", "bob")}, AllowFiltering: true})
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEqual, "SELECT id, name, active FROM t WHERE name = ? ALLOW FILTERING")
			So(stmt.Values, ShouldResemble, []any{"bob"})
		})

		Convey("分区键等值查询", func() {
			stmt, err := Select(itemsSchema(), SelectQuery{Filters: []query.Filter{query.Eq("id", itemID)}})
			So(err, ShouldBeNil)
			So(stmt.Kind, ShouldEqual, KindSelect)
			So(stmt.CQL, ShouldEqual, "SELECT id, name, active FROM t WHERE id = ?")
			So(len(stmt.Values), ShouldEqual, 1)
			So(stmt.Values[0], ShouldEqual, [16]byte(uuid.MustParse(itemID)))
			So(stmt.PartitionValues, ShouldResemble, stmt.Values)
		})

		Convey("WHERE 按主键顺序输出", func() {
			stmt, err := Select(eventsSchema(), SelectQuery{
				Columns: []string{"payload"},
				Filters: []query.Filter{query.Gt("ts", ts), query.Eq("day", "2024-01-01"), query.Eq("tenant", "acme")},
			})
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEqual, "SELECT payload FROM app.events WHERE tenant = ? AND day = ? AND ts > ?")
			So(stmt.Values, ShouldResemble, []any{"acme", day, ts})
			So(stmt.PartitionValues, ShouldResemble, []any{"acme", day})
		})

		Convey("聚簇列范围条件", func() {
			stmt, err := Select(eventsSchema(), SelectQuery{
				Columns: []string{"payload"},
				Filters: append(partition(), query.Eq("ts", ts), query.Ge("seq", 1), query.Lt("seq", 10)),
			})
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEqual, "SELECT payload FROM app.events WHERE tenant = ? AND day = ? AND ts = ? AND seq >= ? AND seq < ?")
			So(stmt.Values, ShouldResemble, []any{"acme", day, ts, int32(1), int32(10)})
		})

		Convey("IN 分区查询没有单一分区", func() {
			stmt, err := Select(eventsSchema(), SelectQuery{
				Columns: []string{"payload"},
				Filters: []query.Filter{query.In("tenant", "a", "b"), query.Eq("day", "2024-01-01")},
			})
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEqual, "SELECT payload FROM app.events WHERE tenant IN (?, ?) AND day = ?")
			So(stmt.PartitionValues, ShouldBeNil)
		})

		Convey("需要 ALLOW FILTERING 的限定", func() {
			cases := []struct {
				name    string
				filters []query.Filter
				column  string
			}{
				{"部分分区键", []query.Filter{query.Eq("tenant", "acme")}, "tenant"},
				{"分区键范围", []query.Filter{query.Gt("tenant", "a"), query.Eq("day", "2024-01-01")}, "tenant"},
				{"缺少分区键的聚簇列", []query.Filter{query.Eq("ts", ts)}, "ts"},
				{"聚簇列跳跃", append(partition(), query.Eq("seq", 1)), "seq"},
				{"范围之后的聚簇列", append(partition(), query.Gt("ts", ts), query.Eq("seq", 1)), "seq"},
				{"没有索引的普通列", append(partition(), query.Eq("payload", "x")), "payload"},
				{"没有索引的集合", []query.Filter{query.Contains("tags", "red")}, "tags"},
				{"多个索引", []query.Filter{query.Eq("kind", "click"), query.ContainsKey("attrs", "k")}, "attrs"},
				{"索引列的范围条件", []query.Filter{query.Gt("kind", "a")}, "kind"},
			}
			for _, c := range cases {
				_, err := Select(eventsSchema(), SelectQuery{Filters: c.filters})
				So(err, ShouldNotBeNil)
				So(filteringColumn(err), ShouldEqual, c.column)

				_, err = Select(eventsSchema(), SelectQuery{Filters: c.filters, AllowFiltering: true})
				So(err, ShouldBeNil)
			}
		})

		Convey("二级索引", func() {
			stmt, err := Select(eventsSchema(), SelectQuery{Columns: []string{"payload"}, Filters: []query.Filter{query.Eq("kind", "click")}})
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEqual, "SELECT payload FROM app.events WHERE kind = ?")

			stmt, err = Select(eventsSchema(), SelectQuery{Columns: []string{"payload"}, Filters: []query.Filter{query.ContainsKey("attrs", "color")}})
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEqual, "SELECT payload FROM app.events WHERE attrs CONTAINS KEY ?")

			stmt, err = Select(eventsSchema(), SelectQuery{Columns: []string{"payload"}, Filters: append(partition(), query.Eq("kind", "click"))})
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEqual, "SELECT payload FROM app.events WHERE tenant = ? AND day = ? AND kind = ?")
		})

		Convey("不支持的限定", func() {
			_, err := Select(eventsSchema(), SelectQuery{Filters: []query.Filter{query.Ne("tenant", "a")}})
			So(unsupportedRule(err), ShouldEqual, cql.RuleWhereNotEqual)

			_, err = Select(eventsSchema(), SelectQuery{Filters: append(partition(), query.Eq("ts", ts), query.Gt("ts", ts))})
			So(unsupportedRule(err), ShouldEqual, cql.RuleMultipleRelations)

			_, err = Select(eventsSchema(), SelectQuery{Filters: append(partition(), query.Gt("ts", ts), query.Ge("ts", ts))})
			So(unsupportedRule(err), ShouldEqual, cql.RuleMultipleRelations)

			_, err = Select(eventsSchema(), SelectQuery{Filters: []query.Filter{query.Eq("missing", 1)}})
			So(unsupportedRule(err), ShouldEqual, cql.RuleUnknownColumn)

			_, err = Select(eventsSchema(), SelectQuery{Filters: []query.Filter{query.Contains("payload", "x")}})
			So(unsupportedRule(err), ShouldEqual, cql.RuleOperatorColumn)

			_, err = Select(eventsSchema(), SelectQuery{Filters: []query.Filter{query.Eq("seq", "one")}})
			var ce *cql.CoercionError
			So(err, ShouldHaveSameTypeAs, ce)
		})

		Convey("ORDER BY", func() {
			stmt, err := Select(eventsSchema(), SelectQuery{
				Columns: []string{"payload"},
				Filters: partition(),
				OrderBy: []query.Order{query.Asc("ts"), query.Desc("seq")},
			})
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEqual, "SELECT payload FROM app.events WHERE tenant = ? AND day = ? ORDER BY ts ASC, seq DESC")

			stmt, err = Select(eventsSchema(), SelectQuery{Columns: []string{"payload"}, Filters: partition(), OrderBy: []query.Order{query.Desc("ts")}})
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEqual, "SELECT payload FROM app.events WHERE tenant = ? AND day = ? ORDER BY ts DESC")

			bad := [][]query.Order{
				{query.Asc("seq")},
				{query.Desc("ts"), query.Desc("seq")},
				{query.Asc("payload")},
			}
			for _, orders := range bad {
				_, err := Select(eventsSchema(), SelectQuery{Filters: partition(), OrderBy: orders})
				So(unsupportedRule(err), ShouldEqual, cql.RuleOrderBy)
			}

			_, err = Select(eventsSchema(), SelectQuery{OrderBy: []query.Order{query.Asc("ts")}})
			So(unsupportedRule(err), ShouldEqual, cql.RuleOrderBy)

			_, err = Select(eventsSchema(), SelectQuery{Filters: append(partition(), query.Eq("kind", "click")), OrderBy: []query.Order{query.Asc("ts")}})
			So(unsupportedRule(err), ShouldEqual, cql.RuleOrderBy)
		})

		Convey("GROUP BY 与 COUNT", func() {
			stmt, err := Select(eventsSchema(), SelectQuery{GroupBy: []string{"tenant", "day"}, Count: true})
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEqual, "SELECT tenant, day, COUNT(*) FROM app.events GROUP BY tenant, day")

			stmt, err = Select(itemsSchema(), SelectQuery{Count: true})
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEqual, "SELECT COUNT(*) FROM t")

			_, err = Select(eventsSchema(), SelectQuery{GroupBy: []string{"day"}})
			So(unsupportedRule(err), ShouldEqual, cql.RuleGroupBy)

			_, err = Select(eventsSchema(), SelectQuery{Count: true, Columns: []string{"payload"}})
			So(unsupportedRule(err), ShouldEqual, cql.RuleProjection)
		})

		Convey("DISTINCT", func() {
			stmt, err := Select(eventsSchema(), SelectQuery{Distinct: true})
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEqual, "SELECT DISTINCT tenant, day FROM app.events")

			stmt, err = Select(eventsSchema(), SelectQuery{Distinct: true, Columns: []string{"tenant", "day", "owner"}})
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEqual, "SELECT DISTINCT tenant, day, owner FROM app.events")

			_, err = Select(eventsSchema(), SelectQuery{Distinct: true, Columns: []string{"tenant", "day", "payload"}})
			So(unsupportedRule(err), ShouldEqual, cql.RuleDistinct)

			_, err = Select(eventsSchema(), SelectQuery{Distinct: true, Columns: []string{"tenant"}})
			So(unsupportedRule(err), ShouldEqual, cql.RuleDistinct)

			_, err = Select(eventsSchema(), SelectQuery{Distinct: true, Count: true})
			So(unsupportedRule(err), ShouldEqual, cql.RuleDistinct)
		})

		Convey("LIMIT 与分页", func() {
			stmt, err := Select(eventsSchema(), SelectQuery{
				Columns:           []string{"payload"},
				PerPartitionLimit: 2,
				Limit:             10,
				PageSize:          50,
				PageState:         []byte{1, 2},
			})
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEqual, "SELECT payload FROM app.events PER PARTITION LIMIT 2 LIMIT 10")
			So(stmt.PageSize, ShouldEqual, 50)
			So(stmt.PageState, ShouldResemble, []byte{1, 2})

			_, err = Select(eventsSchema(), SelectQuery{Limit: -1})
			So(unsupportedRule(err), ShouldEqual, cql.RuleLimit)
		})

		Convey("投影校验", func() {
			_, err := Select(eventsSchema(), SelectQuery{Columns: []string{"missing"}})
			So(unsupportedRule(err), ShouldEqual, cql.RuleUnknownColumn)

			_, err = Select(eventsSchema(), SelectQuery{Columns: []string{"payload", "payload"}})
			So(unsupportedRule(err), ShouldEqual, cql.RuleProjection)
		})
	})
}
