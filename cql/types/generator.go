package types

import (
	"time"

	"github.com/google/uuid"
)

// Generator 列默认值生成器，每次写入时调用
type Generator func() any

// NewUUID 生成随机 uuid (v4)
func NewUUID() any {
	return uuid.New()
}

// NewTimeUUID 生成基于时间的 uuid (v1)，适用于 timeuuid 列
func NewTimeUUID() any {
	return uuid.Must(uuid.NewUUID())
}

// Now 返回毫秒精度的当前时间，与 timestamp 列的存储精度一致
func Now() any {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// Today 返回当天零点，适用于 date 列
func Today() any {
	y, m, d := time.Now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var generators = map[string]Generator{
	"uuid":      NewUUID,
	"timeuuid":  NewTimeUUID,
	"now":       Now,
	"today":     Today,
	"snowflake": NewSnowflakeID,
}

// LookupGenerator 按名称查找生成器，供声明文件使用
func LookupGenerator(name string) (Generator, bool) {
	g, ok := generators[name]
	return g, ok
}
