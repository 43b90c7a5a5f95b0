package query

import (
	"testing"

	"github.com/hatlonely/cqlx/cql"
	. "github.com/smartystreets/goconvey/convey"
)

func TestFilterCQL(t *testing.T) {
	Convey("测试过滤条件渲染", t, func() {
		So(Eq("id", 1).CQL(), ShouldEqual, "id = ?")
		So(Ne("id", 1).CQL(), ShouldEqual, "id != ?")
		So(Ge("ts", 1).CQL(), ShouldEqual, "ts >= ?")
		So(In("id", 1, 2, 3).CQL(), ShouldEqual, "id IN (?, ?, ?)")
		So(Contains("tags", "a").CQL(), ShouldEqual, "tags CONTAINS ?")
		So(ContainsKey("attrs", "a").CQL(), ShouldEqual, "attrs CONTAINS KEY ?")

		Convey("保留字和大写列名加引号", func() {
			So(Eq("token", 1).CQL(), ShouldEqual, `"token" = ?`)
			So(Lt("userId", 1).CQL(), ShouldEqual, `"userId" < ?`)
		})
	})
}

func TestFilterValidate(t *testing.T) {
	Convey("测试操作数个数", t, func() {
		So(Eq("id", 1).Validate(), ShouldBeNil)
		So(In("id", 1).Validate(), ShouldBeNil)

		err := In("id").Validate()
		So(err, ShouldNotBeNil)
		So(err.(*cql.UnsupportedQueryError).Rule, ShouldEqual, cql.RuleOperatorArity)

		err = Filter{Column: "id", Op: OpEq, Values: []any{1, 2}}.Validate()
		So(err, ShouldNotBeNil)

		err = Filter{Column: "id", Op: "LIKE", Values: []any{1}}.Validate()
		So(err, ShouldNotBeNil)
		So(err.(*cql.UnsupportedQueryError).Rule, ShouldEqual, cql.RuleOperatorColumn)
	})
}

func TestOperator(t *testing.T) {
	Convey("测试比较符分类", t, func() {
		So(OpLt.IsRange(), ShouldBeTrue)
		So(OpEq.IsRange(), ShouldBeFalse)
		So(OpIn.IsEquality(), ShouldBeTrue)
		So(OpContains.IsEquality(), ShouldBeFalse)
		So(Operator("LIKE").Valid(), ShouldBeFalse)
	})
}

func TestAssignmentCQL(t *testing.T) {
	Convey("测试赋值渲染", t, func() {
		for _, c := range []struct {
			a      Assignment
			cql    string
			values []any
		}{
			{Set("name", "x"), "name = ?", []any{"x"}},
			{Add("tags", []any{"a"}), "tags = tags + ?", []any{[]any{"a"}}},
			{Prepend("events", []any{1}), "events = ? + events", []any{[]any{1}}},
			{Remove("tags", []any{"a"}), "tags = tags - ?", []any{[]any{"a"}}},
			{SetKey("attrs", "k", "v"), "attrs[?] = ?", []any{"k", "v"}},
		} {
			s, values, err := c.a.CQL()
			So(err, ShouldBeNil)
			So(s, ShouldEqual, c.cql)
			So(values, ShouldResemble, c.values)
		}

		_, _, err := Assignment{Column: "x", Op: "incr"}.CQL()
		So(err, ShouldNotBeNil)
	})
}

func TestOrderCQL(t *testing.T) {
	Convey("测试排序渲染", t, func() {
		So(Asc("ts").CQL(), ShouldEqual, "ts ASC")
		So(Desc("ts").CQL(), ShouldEqual, "ts DESC")
		So(Placeholders(0), ShouldEqual, "")
		So(Placeholders(2), ShouldEqual, "?, ?")
	})
}
