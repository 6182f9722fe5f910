// Package logger is a thin leveled logging facade shared by all packages.
package logger

import (
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("safeauth")

// SetLevel adjusts the level for all module loggers ("debug", "info",
// "warn", "error").
func SetLevel(level string) error {
	lvl, err := logging.LevelFromString(level)
	if err != nil {
		return err
	}
	logging.SetAllLoggers(lvl)
	return nil
}

func Debug(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

func Info(format string, args ...interface{}) {
	log.Infof(format, args...)
}

func Warn(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

func Error(format string, args ...interface{}) {
	log.Errorf(format, args...)
}
