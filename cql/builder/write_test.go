package builder

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hatlonely/cqlx/cql"
	"github.com/hatlonely/cqlx/cql/query"
	. "github.com/smartystreets/goconvey/convey"
)

func fullKey() []query.Filter {
	return append(partition(), query.Eq("ts", ts), query.Eq("seq", 1))
}

func TestInsert(t *testing.T) {
	Convey("测试 Insert", t, func() {
		Convey("只包含给出的列", func() {
			stmt, err := Insert(itemsSchema(), map[string]any{"name": "bob", "id": itemID})
			So(err, ShouldBeNil)
			So(stmt.Kind, ShouldEqual, KindInsert)
			So(stmt.CQL, ShouldEqual, "INSERT INTO t (id, name) VALUES (?, ?)")
			So(stmt.Values, ShouldResemble, []any{[16]byte(uuid.MustParse(itemID)), "bob"})
			So(stmt.PartitionValues, ShouldResemble, []any{[16]byte(uuid.MustParse(itemID))})
		})

		Convey("缺少必填列", func() {
			_, err := Insert(itemsSchema(), map[string]any{"id": itemID, "active": false})
			var me *cql.MissingRequiredFieldError
			So(errors.As(err, &me), ShouldBeTrue)
			So(me.Column, ShouldEqual, "name")

			_, err = Insert(itemsSchema(), map[string]any{"id": itemID, "name": nil})
			So(errors.As(err, &me), ShouldBeTrue)
			So(me.Column, ShouldEqual, "name")

			_, err = Insert(itemsSchema(), map[string]any{"name": "bob"})
			So(errors.As(err, &me), ShouldBeTrue)
			So(me.Column, ShouldEqual, "id")
		})

		Convey("写入选项", func() {
			stmt, err := Insert(eventsSchema(), map[string]any{
				"tenant": "acme", "day": day, "ts": ts, "seq": 1, "payload": "hello",
			}, IfNotExists(), WithTTL(60), WithTimestamp(1000))
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEqual, "INSERT INTO app.events (tenant, day, ts, seq, payload) VALUES (?, ?, ?, ?, ?) IF NOT EXISTS USING TTL 60 AND TIMESTAMP 1000")
			So(stmt.Values, ShouldResemble, []any{"acme", day, ts, int32(1), "hello"})
			So(stmt.PartitionValues, ShouldResemble, []any{"acme", day})
		})

		Convey("非法输入", func() {
			_, err := Insert(itemsSchema(), map[string]any{"id": itemID, "name": "bob", "missing": 1})
			So(unsupportedRule(err), ShouldEqual, cql.RuleUnknownColumn)

			_, err = Insert(itemsSchema(), map[string]any{"id": itemID, "name": 42})
			var ce *cql.CoercionError
			So(errors.As(err, &ce), ShouldBeTrue)
			So(ce.Column, ShouldEqual, "name")
			So(ce.Table, ShouldEqual, "t")

			_, err = Insert(itemsSchema(), map[string]any{"id": itemID, "name": "bob"}, IfExists())
			So(unsupportedRule(err), ShouldEqual, cql.RuleConditions)

			_, err = Insert(itemsSchema(), map[string]any{"id": itemID, "name": "bob"}, WithTTL(-1))
			So(unsupportedRule(err), ShouldEqual, cql.RuleWriteOption)

			_, err = Insert(itemsSchema(), map[string]any{"id": itemID, "name": "bob"}, DeleteColumns("name"))
			So(unsupportedRule(err), ShouldEqual, cql.RuleWriteOption)
		})
	})
}

func TestUpdate(t *testing.T) {
	Convey("测试 Update", t, func() {
		Convey("缺少分区键", func() {
			_, err := Update(itemsSchema(), []query.Assignment{query.Set("name", "x")}, nil)
			var ie *cql.IncompleteKeyError
			So(errors.As(err, &ie), ShouldBeTrue)
			So(ie.Column, ShouldEqual, "id")
			So(ie.Operation, ShouldEqual, "update")

			_, err = Update(eventsSchema(), []query.Assignment{query.Set("payload", "x")}, []query.Filter{query.Eq("tenant", "acme")})
			So(incompleteColumn(err), ShouldEqual, "day")
		})

		Convey("完整主键", func() {
			stmt, err := Update(eventsSchema(), []query.Assignment{query.Set("payload", "p")}, fullKey(), WithTTL(60))
			So(err, ShouldBeNil)
			So(stmt.Kind, ShouldEqual, KindUpdate)
			So(stmt.CQL, ShouldEqual, "UPDATE app.events USING TTL 60 SET payload = ? WHERE tenant = ? AND day = ? AND ts = ? AND seq = ?")
			So(stmt.Values, ShouldResemble, []any{"p", "acme", day, ts, int32(1)})
			So(stmt.PartitionValues, ShouldResemble, []any{"acme", day})
		})

		Convey("普通列需要完整的聚簇键", func() {
			_, err := Update(eventsSchema(), []query.Assignment{query.Set("payload", "p")}, append(partition(), query.Eq("ts", ts)))
			So(incompleteColumn(err), ShouldEqual, "seq")

			_, err = Update(eventsSchema(), []query.Assignment{query.Set("payload", "p")}, append(partition(), query.Gt("ts", ts), query.Eq("seq", 1)))
			So(incompleteColumn(err), ShouldEqual, "ts")
		})

		Convey("只更新静态列", func() {
			stmt, err := Update(eventsSchema(), []query.Assignment{query.Set("owner", "ann")}, partition())
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEqual, "UPDATE app.events SET owner = ? WHERE tenant = ? AND day = ?")

			_, err = Update(eventsSchema(), []query.Assignment{query.Set("owner", "ann")}, append(partition(), query.Eq("ts", ts)))
			So(unsupportedRule(err), ShouldEqual, cql.RuleWriteFilter)
		})

		Convey("集合操作", func() {
			stmt, err := Update(eventsSchema(), []query.Assignment{
				query.Add("tags", []string{"red", "red", "blue"}),
				query.Prepend("history", []int{7}),
				query.Remove("attrs", []string{"old"}),
			}, fullKey())
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEqual, "UPDATE app.events SET tags = tags + ?, history = ? + history, attrs = attrs - ? WHERE tenant = ? AND day = ? AND ts = ? AND seq = ?")
			So(stmt.Values[:3], ShouldResemble, []any{[]any{"red", "blue"}, []any{int32(7)}, []any{"old"}})

			stmt, err = Update(eventsSchema(), []query.Assignment{query.SetKey("attrs", "color", "red"), query.SetKey("history", 0, 1)}, fullKey())
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldStartWith, "UPDATE app.events SET attrs[?] = ?, history[?] = ? WHERE")
			So(stmt.Values[:4], ShouldResemble, []any{"color", "red", int32(0), int32(1)})
		})

		Convey("非法赋值", func() {
			cases := []struct {
				assignments []query.Assignment
				rule        string
			}{
				{nil, cql.RuleNoAssignments},
				{[]query.Assignment{query.Set("ts", ts)}, cql.RuleKeyAssignment},
				{[]query.Assignment{query.Set("payload", "a"), query.Set("payload", "b")}, cql.RuleAssignment},
				{[]query.Assignment{query.Add("payload", "a")}, cql.RuleAssignment},
				{[]query.Assignment{query.Prepend("tags", []string{"a"})}, cql.RuleAssignment},
				{[]query.Assignment{query.SetKey("tags", "a", "b")}, cql.RuleAssignment},
				{[]query.Assignment{query.Set("missing", 1)}, cql.RuleUnknownColumn},
			}
			for _, c := range cases {
				_, err := Update(eventsSchema(), c.assignments, fullKey())
				So(unsupportedRule(err), ShouldEqual, c.rule)
			}

			_, err := Update(itemsSchema(), []query.Assignment{query.Set("name", nil)}, []query.Filter{query.Eq("id", itemID)})
			var me *cql.MissingRequiredFieldError
			So(errors.As(err, &me), ShouldBeTrue)
		})

		Convey("只能按主键限定", func() {
			_, err := Update(eventsSchema(), []query.Assignment{query.Set("payload", "p")}, append(fullKey(), query.Eq("kind", "click")))
			So(unsupportedRule(err), ShouldEqual, cql.RuleWriteFilter)
		})

		Convey("多个非主键列时按声明顺序报告第一个", func() {
			for i := 0; i < 20; i++ {
				_, err := Update(eventsSchema(), []query.Assignment{query.Set("tags", []string{"x"})}, append(fullKey(), query.Eq("kind", "click"), query.Eq("payload", "p")))
				var ue *cql.UnsupportedQueryError
				So(errors.As(err, &ue), ShouldBeTrue)
				So(ue.Rule, ShouldEqual, cql.RuleWriteFilter)
				So(ue.Column, ShouldEqual, "payload")
			}
		})

		Convey("轻量事务条件", func() {
			stmt, err := Update(eventsSchema(), []query.Assignment{query.Set("payload", "new")}, fullKey(), If(query.Eq("payload", "old"), query.Ne("kind", "x")))
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEndWith, "AND seq = ? IF payload = ? AND kind != ?")
			So(stmt.Values[len(stmt.Values)-2:], ShouldResemble, []any{"old", "x"})

			stmt, err = Update(eventsSchema(), []query.Assignment{query.Set("payload", "new")}, fullKey(), IfExists())
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEndWith, " IF EXISTS")

			_, err = Update(eventsSchema(), []query.Assignment{query.Set("payload", "new")}, fullKey(), IfExists(), If(query.Eq("payload", "old")))
			So(unsupportedRule(err), ShouldEqual, cql.RuleConditions)

			_, err = Update(eventsSchema(), []query.Assignment{query.Set("payload", "new")}, fullKey(), If(query.Eq("tenant", "acme")))
			So(unsupportedRule(err), ShouldEqual, cql.RuleConditions)

			_, err = Update(eventsSchema(), []query.Assignment{query.Set("payload", "new")}, fullKey(), IfNotExists())
			So(unsupportedRule(err), ShouldEqual, cql.RuleConditions)
		})
	})
}

func TestDelete(t *testing.T) {
	Convey("测试 Delete", t, func() {
		Convey("缺少分区键", func() {
			_, err := Delete(itemsSchema(), nil)
			So(incompleteColumn(err), ShouldEqual, "id")

			_, err = Delete(eventsSchema(), []query.Filter{query.Eq("day", day)})
			So(incompleteColumn(err), ShouldEqual, "tenant")
		})

		Convey("删除整个分区", func() {
			stmt, err := Delete(eventsSchema(), partition())
			So(err, ShouldBeNil)
			So(stmt.Kind, ShouldEqual, KindDelete)
			So(stmt.CQL, ShouldEqual, "DELETE FROM app.events WHERE tenant = ? AND day = ?")
			So(stmt.PartitionValues, ShouldResemble, []any{"acme", day})
		})

		Convey("按聚簇键范围删除", func() {
			stmt, err := Delete(eventsSchema(), append(partition(), query.Ge("ts", ts)))
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEqual, "DELETE FROM app.events WHERE tenant = ? AND day = ? AND ts >= ?")

			_, err = Delete(eventsSchema(), append(partition(), query.Eq("seq", 1)))
			So(incompleteColumn(err), ShouldEqual, "ts")

			_, err = Delete(eventsSchema(), append(partition(), query.Gt("ts", ts), query.Eq("seq", 1)))
			So(incompleteColumn(err), ShouldEqual, "seq")
		})

		Convey("删除部分列", func() {
			stmt, err := Delete(eventsSchema(), partition(), DeleteColumns("owner"))
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEqual, "DELETE owner FROM app.events WHERE tenant = ? AND day = ?")

			_, err = Delete(eventsSchema(), partition(), DeleteColumns("payload"))
			So(incompleteColumn(err), ShouldEqual, "ts")

			stmt, err = Delete(eventsSchema(), fullKey(), DeleteColumns("payload", "tags"))
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEqual, "DELETE payload, tags FROM app.events WHERE tenant = ? AND day = ? AND ts = ? AND seq = ?")

			_, err = Delete(eventsSchema(), fullKey(), DeleteColumns("seq"))
			So(unsupportedRule(err), ShouldEqual, cql.RuleKeyAssignment)
		})

		Convey("写入选项", func() {
			stmt, err := Delete(eventsSchema(), partition(), WithTimestamp(5))
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEqual, "DELETE FROM app.events USING TIMESTAMP 5 WHERE tenant = ? AND day = ?")

			_, err = Delete(eventsSchema(), partition(), WithTTL(10))
			So(unsupportedRule(err), ShouldEqual, cql.RuleWriteOption)

			stmt, err = Delete(eventsSchema(), fullKey(), IfExists())
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldEndWith, "AND seq = ? IF EXISTS")

			_, err = Delete(eventsSchema(), append(partition(), query.Eq("ts", ts)), IfExists())
			So(incompleteColumn(err), ShouldEqual, "seq")
		})
	})
}

func TestBatch(t *testing.T) {
	Convey("测试 Batch", t, func() {
		insert, err := Insert(eventsSchema(), map[string]any{"tenant": "acme", "day": day, "ts": ts, "seq": 1})
		So(err, ShouldBeNil)
		update, err := Update(eventsSchema(), []query.Assignment{query.Set("owner", "ann")}, partition())
		So(err, ShouldBeNil)

		Convey("同一分区", func() {
			stmt, err := Batch([]Statement{insert, update})
			So(err, ShouldBeNil)
			So(stmt.Kind, ShouldEqual, KindBatch)
			So(stmt.CQL, ShouldEqual, "BEGIN BATCH\n"+
				"  INSERT INTO app.events (tenant, day, ts, seq) VALUES (?, ?, ?, ?);\n"+
				"  UPDATE app.events SET owner = ? WHERE tenant = ? AND day = ?;\n"+
				"APPLY BATCH")
			So(stmt.Values, ShouldResemble, []any{"acme", day, ts, int32(1), "ann", "acme", day})
			So(stmt.PartitionValues, ShouldResemble, []any{"acme", day})
		})

		Convey("批次选项", func() {
			stmt, err := Batch([]Statement{insert}, Unlogged(), WithBatchTimestamp(7))
			So(err, ShouldBeNil)
			So(stmt.CQL, ShouldStartWith, "BEGIN UNLOGGED BATCH USING TIMESTAMP 7\n")
		})

		Convey("非法批次", func() {
			batchError := func(err error) *cql.BatchCompositionError {
				var be *cql.BatchCompositionError
				if errors.As(err, &be) {
					return be
				}
				return nil
			}

			_, err := Batch(nil)
			So(batchError(err).Rule, ShouldEqual, cql.RuleBatchEmpty)

			sel, _ := Select(eventsSchema(), SelectQuery{Filters: partition()})
			_, err = Batch([]Statement{insert, sel})
			So(batchError(err).Rule, ShouldEqual, cql.RuleBatchStatement)
			So(batchError(err).Index, ShouldEqual, 1)

			other, _ := Insert(itemsSchema(), map[string]any{"id": itemID, "name": "bob"})
			_, err = Batch([]Statement{insert, other})
			So(batchError(err).Rule, ShouldEqual, cql.RuleBatchTable)

			elsewhere, _ := Delete(eventsSchema(), []query.Filter{query.Eq("tenant", "other"), query.Eq("day", day)})
			_, err = Batch([]Statement{insert, elsewhere})
			So(batchError(err).Rule, ShouldEqual, cql.RuleBatchPartition)
			So(batchError(err).Index, ShouldEqual, 1)

			multi, _ := Delete(eventsSchema(), []query.Filter{query.In("tenant", "acme", "other"), query.Eq("day", day)})
			_, err = Batch([]Statement{multi})
			So(batchError(err).Rule, ShouldEqual, cql.RuleBatchPartition)
		})
	})
}
