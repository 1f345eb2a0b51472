package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"docworkspace/internal/config"
)

func TestNewWritesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ws.log")
	l := New(config.Config{LogFile: path, LogLevel: "debug", Environment: "production", WorkspaceID: "w1"})
	l.Info("document registered")
	_ = l.Sync()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), `"message":"document registered"`)
	require.Contains(t, string(b), `"workspace":"w1"`)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, zapcore.WarnLevel, parseLevel("WARN"))
	require.Equal(t, zapcore.InfoLevel, parseLevel("chatty"))
}

func TestOrNop(t *testing.T) {
	require.NotNil(t, OrNop(nil))
}
