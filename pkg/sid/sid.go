package sid

import (
	"github.com/pkg/errors"
	"github.com/sony/sonyflake"
)

type Sid struct {
	sf *sonyflake.Sonyflake
}

func NewSid() *Sid {
	sf := sonyflake.NewSonyflake(sonyflake.Settings{})
	if sf == nil {
		// 容器/CI 环境可能没有私有 IPv4 地址，回退到固定机器号
		sf = sonyflake.NewSonyflake(sonyflake.Settings{
			MachineID: func() (uint16, error) { return 1, nil },
		})
	}
	if sf == nil {
		panic("sonyflake not created")
	}
	return &Sid{sf}
}

func (s Sid) GenString() (string, error) {
	id, err := s.sf.NextID()
	if err != nil {
		return "", errors.Wrap(err, "failed to generate sonyflake ID")
	}
	return IntToBase62(int(id)), nil
}

func (s Sid) GenUint64() (uint64, error) {
	return s.sf.NextID()
}
