package logsink

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	logx "lanework/pkg/logx"
)

func TestFromLoggerMapsLevels(t *testing.T) {
	var buf bytes.Buffer
	sink := FromLogger(logx.NewJSON(&buf, "debug"))

	sink.Write(Debug, "d")
	sink.Write(Information, "i")
	sink.Write(Success, "s")
	sink.Write(Warning, "w")
	sink.Write(Error, "e")

	out := buf.String()
	assert.Contains(t, out, `"level":"debug"`)
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"outcome":"success"`)
}

func TestFromZeroLoggerDiscards(t *testing.T) {
	var l logx.Logger
	_, isLogx := FromLogger(l).(logxSink)
	assert.False(t, isLogx)
	FromLogger(l).Write(Error, "dropped")
}

func TestRecorderCount(t *testing.T) {
	var r Recorder
	r.Write(Debug, "Job [A] skipped")
	r.Write(Debug, "Job [a] skipped")
	r.Write(Error, "Job [A] failed")

	assert.Equal(t, 2, r.Count(Debug, "skipped"))
	assert.Equal(t, 1, r.Count(Error, ""))
	assert.Len(t, r.Entries(), 3)
	assert.Equal(t, "Warning", Warning.String())
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"":            Information,
		"Debug":       Debug,
		"information": Information,
		"SUCCESS":     Success,
		"warn":        Warning,
		"error":       Error,
	} {
		got, err := ParseLevel(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}
