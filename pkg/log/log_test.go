// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package log

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// withCapturedOutput redirects every level's writer gate and logger sink to
// buf for the duration of fn, then restores the previous state.
func withCapturedOutput(t *testing.T, fn func(buf *bytes.Buffer)) {
	t.Helper()
	prevDebugW, prevInfoW, prevWarnW, prevErrW := DebugWriter, InfoWriter, WarnWriter, ErrWriter
	defer func() {
		DebugWriter, InfoWriter, WarnWriter, ErrWriter = prevDebugW, prevInfoW, prevWarnW, prevErrW
		SetLogLevel("debug")
		DebugLog.SetOutput(io.Discard)
		InfoLog.SetOutput(io.Discard)
		WarnLog.SetOutput(io.Discard)
		ErrLog.SetOutput(io.Discard)
	}()

	var buf bytes.Buffer
	SetLogLevel("debug")
	DebugWriter, InfoWriter, WarnWriter, ErrWriter = &buf, &buf, &buf, &buf
	DebugLog.SetOutput(&buf)
	InfoLog.SetOutput(&buf)
	WarnLog.SetOutput(&buf)
	ErrLog.SetOutput(&buf)
	fn(&buf)
}

func TestSetLogLevelSuppressesBelowThreshold(t *testing.T) {
	withCapturedOutput(t, func(buf *bytes.Buffer) {
		SetLogLevel("warn")
		Debug("debug message")
		Info("info message")
		Warn("warn message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.NotContains(t, out, "info message")
		assert.Contains(t, out, "warn message")
	})
}

func TestSetLogLevelInvalidFallsBackToDebug(t *testing.T) {
	withCapturedOutput(t, func(buf *bytes.Buffer) {
		SetLogLevel("not-a-real-level")
		Debug("still logs at debug")
		assert.Contains(t, buf.String(), "still logs at debug")
	})
}

func TestComponentTagsEveryLine(t *testing.T) {
	withCapturedOutput(t, func(buf *bytes.Buffer) {
		c := WithComponent("forwarder")
		c.Info("started")
		c.Errorf("job %s failed", "X1")

		out := buf.String()
		assert.True(t, strings.Contains(out, "[forwarder] started"))
		assert.True(t, strings.Contains(out, "[forwarder] job X1 failed"))
	})
}

func TestPrintDelegatesToInfo(t *testing.T) {
	withCapturedOutput(t, func(buf *bytes.Buffer) {
		Print("via print")
		assert.Contains(t, buf.String(), "via print")
	})
}
