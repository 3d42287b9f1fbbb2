package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestThrottled_SuppressesWithinInterval(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	entry := log.NewEntry(logger)

	th := NewThrottled(time.Hour, 1)

	assert.True(t, th.Warn(entry, "store down"))
	assert.False(t, th.Warn(entry, "store down"))
	assert.False(t, th.Warn(entry, "store down"))

	assert.Equal(t, 1, strings.Count(buf.String(), "store down"))
	assert.Equal(t, uint64(2), th.suppressed.Load())
}

func TestSetup_UnknownLevelFallsBackToInfo(t *testing.T) {
	defer log.SetLevel(log.GetLevel())

	Setup("chatty", "json")
	assert.Equal(t, log.InfoLevel, log.GetLevel())

	Setup("debug", "text")
	assert.Equal(t, log.DebugLevel, log.GetLevel())
}
