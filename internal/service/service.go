package service

import (
	"labspawn/pkg/jwt"
	"labspawn/pkg/log"
	"labspawn/pkg/sid"
)

type Service struct {
	logger *log.Logger
	sid    *sid.Sid
}

func NewService(
	logger *log.Logger,
	sid *sid.Sid,
) *Service {
	return &Service{
		logger: logger,
		sid:    sid,
	}
}

// Caller 从 token 中解析出的调用方
type Caller struct {
	UserID     string
	Privileged bool
}

func CallerFromClaims(claims *jwt.MyCustomClaims) Caller {
	if claims == nil {
		return Caller{}
	}
	return Caller{UserID: claims.UserId, Privileged: claims.Privileged()}
}

// CanAccess 本人或讲师/管理员
func (c Caller) CanAccess(ownerID string) bool {
	return c.Privileged || (c.UserID != "" && c.UserID == ownerID)
}
