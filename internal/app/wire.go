//go:build wireinject

package app

import (
	"github.com/go3dp/printcam/internal/conf"
	"github.com/go3dp/printcam/internal/data"
	"github.com/go3dp/printcam/internal/web/api"
	"github.com/google/wire"
)

func wireApp(bc *conf.Bootstrap) (*api.Usecase, func(), error) {
	panic(wire.Build(data.ProviderSet, api.ProviderSet))
}
