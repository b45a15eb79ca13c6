package main

import (
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"lanework/internal/app"
)

func TestStopReason(t *testing.T) {
	assert.Equal(t, app.StopSIGTERM, stopReason(syscall.SIGTERM))
	assert.Equal(t, app.StopSIGINT, stopReason(os.Interrupt))
	assert.Equal(t, app.StopUnknown, stopReason(syscall.SIGHUP))
}
