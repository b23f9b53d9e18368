/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process.
func Setup(environment, level string) zerolog.Logger {
	return SetupWithWriter(environment, level, nil)
}

// SetupWithWriter configures zerolog writing to stderr plus an optional extra writer.
// Development gets a console writer at debug level; everything else gets JSON at info.
// A non-empty level overrides the environment default.
func SetupWithWriter(environment, level string, additionalWriter io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl := zerolog.InfoLevel
	var writer io.Writer = os.Stderr
	if environment == "development" {
		lvl = zerolog.DebugLevel
		// stdout belongs to the interactive console
		writer = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	if level != "" {
		if parsed, err := zerolog.ParseLevel(level); err == nil {
			lvl = parsed
		}
	}

	if additionalWriter != nil {
		writer = zerolog.MultiLevelWriter(writer, additionalWriter)
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(lvl)
	log.Logger = logger
	return logger
}
