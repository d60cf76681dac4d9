package router

import (
	"fortunebot/internal/config"
	"fortunebot/internal/runtime/supervisor"
)

type Config = config.Config

type ConfigManager = config.ConfigManager

type Supervisor = supervisor.Supervisor

var (
	NewSupervisor         = supervisor.NewSupervisor
	WithLogger            = supervisor.WithLogger
	WithCancelOnError     = supervisor.WithCancelOnError
	WithRestartBackoff    = supervisor.WithRestartBackoff
	WithPublishFirstError = supervisor.WithPublishFirstError
	WithStopOnCleanExit   = supervisor.WithStopOnCleanExit
)
