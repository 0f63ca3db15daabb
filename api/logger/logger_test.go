package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerReturnsSameScope(t *testing.T) {
	a := NewLogger("appcore.test.same")
	b := NewLogger("appcore.test.same")
	assert.Same(t, a, b)
}

func TestJSONOutputCarriesScopeAndFields(t *testing.T) {
	l := NewLogger("appcore.test.json")
	var buf bytes.Buffer
	l.SetOutput(&buf)
	l.EnableJSON(true)
	l.SetLevel("debug")

	l.WithFields(map[string]any{"application_id": "app-1"}).Infof("deployed %s", "web")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "appcore.test.json", line["scope"])
	assert.Equal(t, "app-1", line["application_id"])
	assert.Equal(t, "deployed web", line["msg"])
}

func TestLevelFiltersDebug(t *testing.T) {
	l := NewLogger("appcore.test.level")
	var buf bytes.Buffer
	l.SetOutput(&buf)
	l.SetLevel("warn")

	l.Debugf("hidden")
	l.Infof("hidden")
	assert.Empty(t, buf.String())

	l.Warnf("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	l := NewLogger("appcore.test.unknown")
	var buf bytes.Buffer
	l.SetOutput(&buf)
	l.SetLevel("verbose")

	l.Debugf("hidden")
	l.Infof("visible")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
}
