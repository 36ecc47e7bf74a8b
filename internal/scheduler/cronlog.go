package scheduler

import (
	"github.com/rs/zerolog"
)

// cronLogger adapts zerolog to cron.Logger. Cron's info output (wake-ups,
// job starts) is demoted to debug.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
