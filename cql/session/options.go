package session

import "time"

// Options 集群连接配置
type Options struct {
	Hosts    []string `cfg:"hosts" validate:"required,min=1,dive,required"`
	Port     int      `cfg:"port" def:"9042" validate:"min=1,max=65535"`
	Keyspace string   `cfg:"keyspace"`
	// 一致性级别
	Consistency    string        `cfg:"consistency" def:"localQuorum" validate:"oneof=any one two three quorum all localQuorum eachQuorum localOne"`
	Timeout        time.Duration `cfg:"timeout" def:"10s"`
	ConnectTimeout time.Duration `cfg:"connectTimeout" def:"5s"`
	// 0 表示自动协商
	ProtoVersion int    `cfg:"protoVersion" validate:"omitempty,oneof=3 4 5"`
	Username     string `cfg:"username"`
	Password     string `cfg:"password" validate:"required_with=Username"`
	// 每页行数，0 表示不分页
	PageSize int `cfg:"pageSize" def:"5000" validate:"min=0"`
}
