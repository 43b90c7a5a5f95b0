package types

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Snowflake 生成按时间递增的 bigint 主键
// 64 位结构：1 位符号位(0) + 41 位毫秒时间戳 + 10 位机器 ID + 12 位序列号
type Snowflake struct {
	state     int64 // 高位时间戳 + 低 12 位序列号
	machineID int64
	epoch     int64
}

const (
	sequenceBits  = 12
	machineIDBits = 10

	maxSequence  = (1 << sequenceBits) - 1
	maxMachineID = (1 << machineIDBits) - 1

	machineIDShift = sequenceBits
	timestampShift = sequenceBits + machineIDBits
)

// 2020-01-01 00:00:00 UTC
var snowflakeEpoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

// NewSnowflake 创建生成器，machineID 超过 10 位时截断
func NewSnowflake(machineID int64) *Snowflake {
	return &Snowflake{
		state:     (time.Now().UnixMilli() - snowflakeEpoch) << sequenceBits,
		machineID: machineID & maxMachineID,
		epoch:     snowflakeEpoch,
	}
}

// Next 返回下一个 ID，并发安全
func (s *Snowflake) Next() int64 {
	for {
		old := atomic.LoadInt64(&s.state)
		oldTimestamp := old >> sequenceBits
		oldSequence := old & maxSequence

		now := time.Now().UnixMilli() - s.epoch
		timestamp, sequence := now, int64(0)
		if now <= oldTimestamp {
			// 同一毫秒或时钟回拨时沿用上次的时间戳
			timestamp = oldTimestamp
			sequence = (oldSequence + 1) & maxSequence
			if sequence == 0 {
				for now <= oldTimestamp {
					now = time.Now().UnixMilli() - s.epoch
				}
				timestamp = now
			}
		}

		if atomic.CompareAndSwapInt64(&s.state, old, timestamp<<sequenceBits|sequence) {
			return timestamp<<timestampShift | s.machineID<<machineIDShift | sequence
		}
	}
}

// MachineIDFromIP 取第一个非回环 IPv4 地址的低两个字节
func MachineIDFromIP() int64 {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return 0
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipv4 := ipnet.IP.To4(); ipv4 != nil {
				return int64(ipv4[2])<<8 | int64(ipv4[3])
			}
		}
	}
	return 0
}

var (
	defaultSnowflake     *Snowflake
	defaultSnowflakeOnce sync.Once
)

// NewSnowflakeID 使用进程级的生成器，适用于 bigint 列
func NewSnowflakeID() any {
	defaultSnowflakeOnce.Do(func() {
		defaultSnowflake = NewSnowflake(MachineIDFromIP())
	})
	return defaultSnowflake.Next()
}
