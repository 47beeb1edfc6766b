package server

import (
	"context"

	"go.uber.org/fx"
)

// NewProvider runs the server for the lifetime of the fx app. The port is
// bound in OnStart so a busy address fails startup instead of a goroutine.
func NewProvider() fx.Option {
	return fx.Options(
		fx.Provide(New),
		fx.Invoke(register),
	)
}

func register(lc fx.Lifecycle, srv *Server) {
	lc.Append(fx.StartStopHook(
		func() error {
			if err := srv.Listen(); err != nil {
				return err
			}
			go srv.Serve()
			return nil
		},
		func(ctx context.Context) error { return srv.Shutdown(ctx) },
	))
}
