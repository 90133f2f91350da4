package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsOnBadLevel(t *testing.T) {
	log := New("not-a-level", "text")
	require.Equal(t, logrus.InfoLevel, log.GetLevel())
}

func TestNew_JSONFormatter(t *testing.T) {
	log := New("debug", "json")
	require.Equal(t, logrus.DebugLevel, log.GetLevel())
	_, ok := log.Formatter.(*logrus.JSONFormatter)
	require.True(t, ok)
}

func TestWithTarget_AddsField(t *testing.T) {
	log := New("info", "text")
	entry := WithTarget(log, "target0")
	require.Equal(t, "target0", entry.Data["target"])
}
