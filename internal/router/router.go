package router

import (
	"labspawn/internal/handler"
	"labspawn/pkg/jwt"
	"labspawn/pkg/log"

	"github.com/spf13/viper"
)

type RouterDeps struct {
	Logger          *log.Logger
	Config          *viper.Viper
	JWT             *jwt.JWT
	InstanceHandler *handler.InstanceHandler
	SecretHandler   *handler.SecretHandler
	HealthHandler   *handler.HealthHandler
}
