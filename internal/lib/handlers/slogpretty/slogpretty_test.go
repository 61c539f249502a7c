package slogpretty

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"authd/internal/lib/sl"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestPrettyHandler_WritesMessageAndAttrs(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	opts := PrettyHandlerOptions{SlogOpts: &slog.HandlerOptions{Level: slog.LevelDebug}}
	log := slog.New(opts.NewPrettyHandler(&buf))

	log.With(slog.String("op", "auth.Login")).Warn("invalid password", sl.Err(errors.New("boom")))

	out := buf.String()
	assert.Contains(t, out, "WARN:")
	assert.Contains(t, out, "invalid password")
	assert.Contains(t, out, `"op": "auth.Login"`)
	assert.Contains(t, out, `"error": "boom"`)
}

func TestPrettyHandler_WithAttrsAccumulates(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	log := slog.New(PrettyHandlerOptions{SlogOpts: &slog.HandlerOptions{}}.NewPrettyHandler(&buf))

	log.With(slog.String("a", "1")).With(slog.String("b", "2")).Info("hello")

	out := buf.String()
	assert.Contains(t, out, `"a": "1"`)
	assert.Contains(t, out, `"b": "2"`)
}
