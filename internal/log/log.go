// Copyright 2019 Sorint.lab
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides the process-wide logger used by every keeper
// component. It wraps zap behind a small surface: callers get a
// *zap.SugaredLogger from S, SColor or AutoColor and change the level only
// through SetDebug and SetLevel.
package log

import (
	"os"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level  = zap.NewAtomicLevelAt(zap.InfoLevel)
	logger = newLogger(false)
	sugar  = logger.Sugar()
)

func newLogger(color bool) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if color {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core, zap.AddCaller())
}

// S returns the process-wide sugared logger.
func S() *zap.SugaredLogger {
	return sugar
}

// SColor returns a colorized sugared logger, used when stderr is a tty.
func SColor() *zap.SugaredLogger {
	return newLogger(true).Sugar()
}

// AutoColor picks SColor when stderr looks like an interactive terminal,
// S() otherwise.
func AutoColor() *zap.SugaredLogger {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return SColor()
	}
	return S()
}

// SetDebug raises the level to Debug; used by PG_AUTOCTL_DEBUG=1 and --debug.
func SetDebug() {
	level.SetLevel(zap.DebugLevel)
}

// SetLevel parses a level name ("debug", "info", "warn", "error") and
// applies it. Unknown names are ignored (keep previous level).
func SetLevel(name string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return
	}
	level.SetLevel(l)
}

// IsDebug reports whether debug-level logging is currently enabled.
func IsDebug() bool {
	return level.Enabled(zap.DebugLevel)
}
