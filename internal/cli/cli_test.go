package cli

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitdis/fitdis-go/pkg/log"
)

type testOptions struct {
	Name    string        `long:"name" env:"FITDIS_TEST_NAME"`
	Timeout time.Duration `long:"timeout" default:"2s"`
	LogOptions
}

func TestParse(t *testing.T) {
	var opts testOptions
	require.NoError(t, Parse(&opts, []string{"--name", "watch", "--log-level", "debug"}, &bytes.Buffer{}))
	assert.Equal(t, "watch", opts.Name)
	assert.Equal(t, 2*time.Second, opts.Timeout)
	assert.Equal(t, "debug", opts.LogLevel)
	assert.Equal(t, "text", opts.LogFormat)
}

func TestParseEnv(t *testing.T) {
	t.Setenv("FITDIS_TEST_NAME", "from-env")
	var opts testOptions
	require.NoError(t, Parse(&opts, nil, &bytes.Buffer{}))
	assert.Equal(t, "from-env", opts.Name)
}

func TestParseHelp(t *testing.T) {
	var opts testOptions
	out := &bytes.Buffer{}
	err := Parse(&opts, []string{"--help"}, out)
	assert.True(t, IsHelp(err))
	assert.Contains(t, out.String(), "--name")
}

func TestParseErrors(t *testing.T) {
	var opts testOptions
	assert.Error(t, Parse(&opts, []string{"--log-format", "xml"}, &bytes.Buffer{}))
	assert.Error(t, Parse(&opts, []string{"extra"}, &bytes.Buffer{}))
	assert.False(t, IsHelp(Parse(&opts, []string{"--bogus"}, &bytes.Buffer{})))
}

func TestSetupLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.GetLevel())

	require.NoError(t, SetupLogging("test", LogOptions{LogLevel: "warn", LogFormat: "json"}))
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())

	assert.Error(t, SetupLogging("test", LogOptions{LogLevel: "loud"}))
}

func TestOverride(t *testing.T) {
	s := "file"
	Override(&s, "")
	assert.Equal(t, "file", s)
	Override(&s, "flag")
	assert.Equal(t, "flag", s)

	d := time.Second
	Override(&d, 0)
	assert.Equal(t, time.Second, d)
}

func TestOpenProtocolLog(t *testing.T) {
	logger, closeFn, err := OpenProtocolLog("")
	require.NoError(t, err)
	assert.IsType(t, log.NoopLogger{}, logger)
	closeFn()

	path := filepath.Join(t.TempDir(), "capture.flog")
	logger, closeFn, err = OpenProtocolLog(path)
	require.NoError(t, err)
	logger.Log(log.Event{Timestamp: time.Now(), Layer: log.LayerSync, Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{Entity: log.StateEntitySession, NewState: "OPEN"}})
	closeFn()

	reader, err := log.NewReader(path)
	require.NoError(t, err)
	defer reader.Close()
	events, err := reader.ReadAll()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "OPEN", events[0].StateChange.NewState)

	_, _, err = OpenProtocolLog(filepath.Join(t.TempDir(), "missing", "dir", "x.flog"))
	assert.Error(t, err)
}
