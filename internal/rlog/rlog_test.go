package rlog

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestLogger(buf *bytes.Buffer, min Level) *Logger {
	return &Logger{tag: "test", min: min, std: log.New(buf, "", 0)}
}

func TestLogSuppressesBelowMinLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelWarn)

	l.Infof("should not appear")
	assert.Empty(t, buf.String())

	l.Warnf("should appear: %d", 42)
	assert.Contains(t, buf.String(), "should appear: 42")
	assert.Contains(t, buf.String(), "[test]")
	assert.Contains(t, buf.String(), "WARN")
}

func TestNamedAppendsTagSuffix(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, LevelDebug)
	sub := l.Named("nickserv")

	sub.Debugf("hello")
	assert.Contains(t, buf.String(), "[test/nickserv]")
}
