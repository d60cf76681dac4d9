package plugin

import (
	"fortunebot/internal/config"
	"fortunebot/internal/runtime/supervisor"
	"fortunebot/internal/transport/telegram/router"
)

type (
	Config          = config.Config
	ConfigManager   = config.ConfigManager
	PluginConfigRaw = config.PluginConfigRaw
)

type Supervisor = supervisor.Supervisor

var (
	NewSupervisor     = supervisor.NewSupervisor
	WithLogger        = supervisor.WithLogger
	WithCancelOnError = supervisor.WithCancelOnError
)

type Access = router.Access

const (
	AccessEveryone  = router.AccessEveryone
	AccessOwnerOnly = router.AccessOwnerOnly
)

type (
	Command        = router.Command
	Request        = router.Request
	HandlerFunc    = router.HandlerFunc
	CommandManager = router.CommandManager
)
