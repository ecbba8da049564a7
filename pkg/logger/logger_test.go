package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tai-ledger-api/internal/config"
)

func TestInitSetsLevelAndFormatter(t *testing.T) {
	defer logrus.SetOutput(os.Stdout)

	Init(config.LoggingConfig{Level: "warn", Format: "json", Output: "stdout"})
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())

	var buf bytes.Buffer
	logrus.SetOutput(&buf)
	logrus.WithField("account_id", 7).Warn("Account balance discrepancy found")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Account balance discrepancy found", entry["message"])
	assert.Equal(t, "warning", entry["level"])
	assert.Contains(t, entry, "timestamp")
	assert.EqualValues(t, 7, entry["account_id"])

	Init(config.LoggingConfig{Level: "bogus", Format: "text"})
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
	_, isText := logrus.StandardLogger().Formatter.(*logrus.TextFormatter)
	assert.True(t, isText)
}

func TestAuditLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	audit := AuditLogger(config.LoggingConfig{EnableAudit: true, AuditFile: path, MaxSize: 1, MaxAge: 1, MaxBackups: 1})

	audit.WithField("admin_id", 1).Info("Withdrawal processed")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Withdrawal processed")
}
