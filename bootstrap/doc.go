// Package bootstrap orchestrates application lifecycle for gokit services.
//
// It provides typed configuration handling, component registration, dependency
// injection, and startup/shutdown hooks for rapid service initialization.
//
// # Quick Start
//
//	app, err := bootstrap.NewApp(&cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	app.RegisterComponent(dbComponent)
//	app.RegisterComponent(serverComponent)
//	if err := app.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// NewApp applies the config's defaults and validates it; reading the config
// from files is done beforehand with package config. Components start in
// registration order and stop in reverse order; Run shuts down gracefully on
// OS signals or context cancellation, and ReadyCheck aggregates health.
package bootstrap
