package observability

import (
	"github.com/danmuck/delphyctl/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger installs a logger built from cfg and tagged with app as the
// process default.
func InitLogger(app string, cfg logging.Config) zerolog.Logger {
	logging.ApplyEnvOverrides(&cfg)
	logger := logging.New(cfg).With().Str("app", app).Logger()
	log.Logger = logger
	zerolog.SetGlobalLevel(cfg.Level)
	return logger
}
