package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hatlonely/cqlx/cql"
	. "github.com/smartystreets/goconvey/convey"
)

const yamlDeclarations = `
keyspace: shop
types:
  - name: item
    fields:
      - {name: sku, type: text}
      - {name: price, type: "frozen<price>"}
  - name: price
    fields:
      - {name: amount, type: bigint}
      - {name: currency, type: text}
tables:
  - name: orders
    columns:
      - {name: customer, type: text}
      - {name: placed_at, type: timestamp}
      - {name: id, type: timeuuid, generator: timeuuid}
      - {name: items, type: "list<frozen<item>>"}
      - {name: status, type: text, default: new, index: true}
      - {name: priority, type: int, default: 3}
      - {name: labels, type: "map<text, text>"}
    partitionKey: [customer]
    clustering:
      - {column: placed_at, order: desc}
      - {column: id}
    indexes:
      - {column: labels, target: keys}
    defaultTTL: 86400
    comment: customer orders
    options:
      gc_grace_seconds: "3600"
`

const tomlDeclarations = `
keyspace = "shop"

[[tables]]
name = "users"
partitionKey = ["id"]

  [[tables.columns]]
  name = "id"
  type = "uuid"
  generator = "uuid"

  [[tables.columns]]
  name = "age"
  type = "int"
  default = 18
`

const jsonDeclarations = `{
  "keyspace": "shop",
  "tables": [{
    "name": "carts",
    "partitionKey": ["id"],
    "columns": [
      {"name": "id", "type": "uuid"},
      {"name": "count", "type": "smallint", "default": 1},
      {"name": "ratio", "type": "double", "default": 0.5}
    ]
  }]
}`

func TestParseDeclarations(t *testing.T) {
	Convey("测试声明文件", t, func() {
		Convey("YAML", func() {
			d, err := ParseDeclarations([]byte(yamlDeclarations), "yaml")
			So(err, ShouldBeNil)
			schemas, err := d.Build()
			So(err, ShouldBeNil)
			So(len(schemas), ShouldEqual, 1)

			s := schemas[0]
			So(s.QualifiedTable(), ShouldEqual, "shop.orders")
			So(s.Clustering(), ShouldResemble, []ClusteringColumn{{Name: "placed_at", Order: Desc}, {Name: "id", Order: Asc}})
			items, _ := s.Column("items")
			So(items.Type.String(), ShouldEqual, "list<frozen<item>>")
			So(items.Type.Elem.UDT.Fields[1].Type.UDT.Name, ShouldEqual, "price")

			priority, _ := s.Column("priority")
			So(priority.Default, ShouldEqual, int32(3))
			id, _ := s.Column("id")
			So(id.DefaultFunc, ShouldNotBeNil)

			So(s.IsIndexed("status"), ShouldBeTrue)
			So(s.IsIndexed("labels"), ShouldBeTrue)
			So(s.Options().DefaultTTL, ShouldEqual, 86400)
			So(s.Options().Comment, ShouldEqual, "customer orders")
			So(s.Options().Extra["gc_grace_seconds"], ShouldEqual, "3600")

			uts := s.UserTypes()
			So(len(uts), ShouldEqual, 2)
			So(uts[0].Name, ShouldEqual, "price")
			So(uts[1].Name, ShouldEqual, "item")
		})

		Convey("TOML", func() {
			d, err := ParseDeclarations([]byte(tomlDeclarations), "toml")
			So(err, ShouldBeNil)
			schemas, err := d.Build()
			So(err, ShouldBeNil)
			age, _ := schemas[0].Column("age")
			So(age.Default, ShouldEqual, int32(18))
		})

		Convey("JSON 数字默认值", func() {
			d, err := ParseDeclarations([]byte(jsonDeclarations), "json")
			So(err, ShouldBeNil)
			schemas, err := d.Build()
			So(err, ShouldBeNil)
			count, _ := schemas[0].Column("count")
			So(count.Default, ShouldEqual, int16(1))
			ratio, _ := schemas[0].Column("ratio")
			So(ratio.Default, ShouldEqual, 0.5)
		})

		Convey("校验失败", func() {
			_, err := ParseDeclarations([]byte(`tables: [{name: t, columns: [{name: id, type: text}]}]`), "yaml")
			So(err, ShouldNotBeNil)

			_, err = ParseDeclarations([]byte(`{}`), "json")
			So(err, ShouldNotBeNil)

			_, err = ParseDeclarations([]byte(`a = 1`), "ini")
			So(err, ShouldNotBeNil)

			_, err = ParseDeclarations([]byte(`tables: [{name: t, partitionKey: [id], columns: [{name: id, type: text, generator: random}]}]`), "yaml")
			So(err, ShouldNotBeNil)
		})

		Convey("构建失败", func() {
			d, err := ParseDeclarations([]byte(`
types:
  - {name: a, fields: [{name: b, type: "frozen<b>"}]}
  - {name: b, fields: [{name: a, type: "frozen<a>"}]}
tables: [{name: t, partitionKey: [id], columns: [{name: id, type: text}]}]
`), "yaml")
			So(err, ShouldBeNil)
			_, err = d.Build()
			So(err, ShouldNotBeNil)

			d, err = ParseDeclarations([]byte(`tables: [{name: t, partitionKey: [id], columns: [{name: id, type: "frozen<nope>"}]}]`), "yaml")
			So(err, ShouldBeNil)
			_, err = d.Build()
			So(err, ShouldNotBeNil)

			d, err = ParseDeclarations([]byte(`tables: [{name: t, partitionKey: [nope], columns: [{name: id, type: text}]}]`), "yaml")
			So(err, ShouldBeNil)
			_, err = d.Build()
			So(err.(*cql.SchemaDefinitionError).Rule, ShouldEqual, cql.RuleUnknownKeyColumn)
		})
	})
}

func TestLoadDeclarations(t *testing.T) {
	Convey("测试从文件加载声明", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, "schema.yml")
		So(os.WriteFile(path, []byte(yamlDeclarations), 0644), ShouldBeNil)

		schemas, err := LoadDeclarations(path)
		So(err, ShouldBeNil)
		So(schemas[0].Table(), ShouldEqual, "orders")

		_, err = LoadDeclarations(filepath.Join(dir, "missing.yaml"))
		So(err, ShouldNotBeNil)
	})
}
