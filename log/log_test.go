package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/hatlonely/cqlx/log/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDefault(t *testing.T) {
	Convey("测试默认日志器", t, func() {
		original := Default()
		So(original, ShouldNotBeNil)
		defer SetDefault(original)

		var buf bytes.Buffer
		l, err := logger.NewSLogWithWriter(&buf, &logger.SLogOptions{Level: "debug"})
		So(err, ShouldBeNil)
		SetDefault(l)
		SetDefault(nil)

		Default().Debug("hello", "k", "v")
		So(strings.Contains(buf.String(), "msg=hello k=v"), ShouldBeTrue)
	})
}
