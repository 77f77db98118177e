// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package obslog

import (
	"testing"

	"log/slog"

	"github.com/stretchr/testify/assert"
)

func TestLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"trace":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for directive, want := range cases {
		assert.Equal(t, want, Level(directive), directive)
	}
}

func TestNewReturnsUsableLogger(t *testing.T) {
	log := New("debug", Options{Name: "test"})
	assert.NotNil(t, log)
	log.Debug("hello", slog.String("k", "v"))
}
