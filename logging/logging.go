// Package logging configures the named go-log subsystems used across the daemons.
package logging

import (
	"fmt"

	logging "github.com/textileio/go-log/v2"
	"go.uber.org/zap/zapcore"
)

// SetLogLevels sets levels for the given systems. "*" applies the level to every registered system.
func SetLogLevels(systems map[string]logging.LogLevel) error {
	for sys, level := range systems {
		l := zapcore.Level(level)
		if sys == "*" {
			for _, s := range logging.GetSubsystems() {
				if err := logging.SetLogLevel(s, l.CapitalString()); err != nil {
					return err
				}
			}
			continue
		}
		if err := logging.SetLogLevel(sys, l.CapitalString()); err != nil {
			return fmt.Errorf("setting level of %s: %w", sys, err)
		}
	}
	return nil
}

// SetLevel applies one level to several systems.
func SetLevel(level logging.LogLevel, systems ...string) error {
	m := make(map[string]logging.LogLevel, len(systems))
	for _, s := range systems {
		m[s] = level
	}
	return SetLogLevels(m)
}
