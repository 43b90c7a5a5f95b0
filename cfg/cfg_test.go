package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type serverOptions struct {
	Hosts   []string          `cfg:"hosts" validate:"required,min=1"`
	Port    int               `cfg:"port" def:"9042" validate:"min=1,max=65535"`
	Timeout time.Duration     `cfg:"timeout" def:"10s"`
	Ratio   float64           `cfg:"ratio"`
	Debug   bool              `cfg:"debug"`
	Labels  map[string]string `cfg:"labels"`
	Log     *logOptions       `cfg:"log"`
	Outputs []logOptions      `cfg:"outputs"`
}

type logOptions struct {
	Level string `cfg:"level" def:"info" validate:"oneof=debug info warn error"`
}

func TestUnmarshal(t *testing.T) {
	Convey("测试配置解码", t, func() {
		Convey("YAML", func() {
			var o serverOptions
			err := Unmarshal([]byte(`
hosts: [10.0.0.1, 10.0.0.2]
timeout: 3s
ratio: 0.5
debug: true
labels:
  env: prod
log:
  level: debug
outputs:
  - {}
  - level: warn
`), "yaml", &o)
			So(err, ShouldBeNil)
			So(o.Hosts, ShouldResemble, []string{"10.0.0.1", "10.0.0.2"})
			So(o.Port, ShouldEqual, 9042)
			So(o.Timeout, ShouldEqual, 3*time.Second)
			So(o.Ratio, ShouldEqual, 0.5)
			So(o.Debug, ShouldBeTrue)
			So(o.Labels, ShouldResemble, map[string]string{"env": "prod"})
			So(o.Log.Level, ShouldEqual, "debug")
			So(o.Outputs[0].Level, ShouldEqual, "info")
			So(o.Outputs[1].Level, ShouldEqual, "warn")
		})

		Convey("TOML", func() {
			var o serverOptions
			err := Unmarshal([]byte(`
hosts = ["cassandra"]
port = 19042
timeout = "1m"
`), "toml", &o)
			So(err, ShouldBeNil)
			So(o.Port, ShouldEqual, 19042)
			So(o.Timeout, ShouldEqual, time.Minute)
			So(o.Log, ShouldBeNil)
		})

		Convey("JSON 与字符串形式的值", func() {
			var o serverOptions
			err := Unmarshal([]byte(`{"Hosts": "a, b", "port": "9043", "debug": "true", "timeout": 1.5}`), "json", &o)
			So(err, ShouldBeNil)
			So(o.Hosts, ShouldResemble, []string{"a", "b"})
			So(o.Port, ShouldEqual, 9043)
			So(o.Debug, ShouldBeTrue)
			So(o.Timeout, ShouldEqual, 1500*time.Millisecond)
		})

		Convey("校验失败", func() {
			var o serverOptions
			So(Unmarshal([]byte(`port: 1`), "yaml", &o), ShouldNotBeNil)
			So(Unmarshal([]byte(`{hosts: [a], port: 70000}`), "yaml", &o), ShouldNotBeNil)
			So(Unmarshal([]byte(`{hosts: [a], log: {level: trace}}`), "yaml", &o), ShouldNotBeNil)
			So(Unmarshal([]byte(`{hosts: [a], port: [1]}`), "yaml", &o), ShouldNotBeNil)
			So(Unmarshal([]byte(`hosts=a`), "ini", &o), ShouldNotBeNil)
		})

		Convey("从文件加载", func() {
			path := filepath.Join(t.TempDir(), "cqlx.yaml")
			So(os.WriteFile(path, []byte("hosts: [localhost]\n"), 0644), ShouldBeNil)
			var o serverOptions
			So(Load(path, &o), ShouldBeNil)
			So(o.Hosts, ShouldResemble, []string{"localhost"})
			So(Load(filepath.Join(t.TempDir(), "missing.yaml"), &o), ShouldNotBeNil)
		})
	})
}

func TestSetDefaults(t *testing.T) {
	Convey("测试默认值", t, func() {
		o := &serverOptions{Port: 1}
		So(SetDefaults(o), ShouldBeNil)
		So(o.Port, ShouldEqual, 1)
		So(o.Timeout, ShouldEqual, 10*time.Second)
		So(o.Log, ShouldBeNil)

		So(SetDefaults(nil), ShouldNotBeNil)
		So(SetDefaults(serverOptions{}), ShouldNotBeNil)

		type bad struct {
			N int `def:"many"`
		}
		So(SetDefaults(&bad{}), ShouldNotBeNil)
	})
}
