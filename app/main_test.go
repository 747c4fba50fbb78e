package main

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func Test_makeNotifier(t *testing.T) {
	opts.Notify.EnabledCompletion, opts.Notify.EnabledError = false, false
	opts.Notify.Destinations = []string{"https://hooks.example.com/agenclip"}
	assert.Nil(t, makeNotifier(), "disabled without completion and error flags")

	opts.Notify.EnabledCompletion = true
	assert.NotNil(t, makeNotifier())

	opts.Notify.Destinations = nil
	assert.Nil(t, makeNotifier(), "nothing to send to")
}

func Test_makeEngineClient(t *testing.T) {
	opts.Engine.Attempts = 2
	opts.Engine.Duration = time.Millisecond
	opts.Engine.Factor = 2
	opts.Engine.Timeout = time.Second
	assert.NotNil(t, makeEngineClient())
}

func Test_setupLogsWithLogsDisabled(t *testing.T) {
	opts.Log.Enabled = false
	assert.Equal(t, os.Stdout, setupLogs())
}

func Test_setupLogsToFile(t *testing.T) {
	tmpfile, err := os.CreateTemp(t.TempDir(), "agenclip-log")
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	opts.Log.Enabled = true
	opts.Log.Filename = tmpfile.Name()
	opts.Log.MaxSize = 100
	opts.Log.MaxBackups = 7
	opts.Log.MaxAge = 0
	opts.Log.EnabledCompress = false
	defer func() { opts.Log.Enabled = false }()

	out := setupLogs()
	assert.IsType(t, &lumberjack.Logger{}, out)

	logger := out.(*lumberjack.Logger)
	assert.Equal(t, tmpfile.Name(), logger.Filename)
	assert.Equal(t, 100, logger.MaxSize)
	assert.Equal(t, 7, logger.MaxBackups)
	assert.Equal(t, 0, logger.MaxAge)
	assert.False(t, logger.Compress)
}

func Test_runBadContent(t *testing.T) {
	opts.Content = "/nonexistent/content.yml"
	defer func() { opts.Content = "" }()
	err := run(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "can't load content")
}
