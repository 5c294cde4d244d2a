package sigma

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const connectRule = `title: Outbound To Unexpected Port
id: 7a3f44ee-81a8-4b62-a8f6-6d7f7c4e55aa
status: test
logsource:
  category: network_connection
detection:
  selection:
    DestinationPort: 8443
  condition: selection
level: medium
`

const execRule = `title: Shell Spawned By CLI
id: ec9f2f8c-5f08-4cb4-9014-72e2b0b78f51
status: test
logsource:
  category: process_creation
detection:
  selection:
    Image|endswith: '/sh'
  condition: selection
level: high
`

func writeRule(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
}

func newTestDetector(t *testing.T, dir string) *Detector {
	t.Helper()
	d, err := NewDetector(dir, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDetectorLoadsRules(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "port.yml", connectRule)
	writeRule(t, dir, "shell.yaml", execRule)
	writeRule(t, dir, "notes.txt", "not a rule")

	d := newTestDetector(t, dir)
	assert.Equal(t, 2, d.RuleCount())
}

func TestCheckEventMatchesConnect(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "port.yml", connectRule)

	d := newTestDetector(t, dir)

	matches := d.CheckEvent(context.Background(), map[string]interface{}{
		"DestinationIp":   "160.79.104.10",
		"DestinationPort": 8443,
	})
	require.Len(t, matches, 1)
	assert.Equal(t, "7a3f44ee-81a8-4b62-a8f6-6d7f7c4e55aa", matches[0].Rule.ID)

	matches = d.CheckEvent(context.Background(), map[string]interface{}{
		"DestinationIp":   "160.79.104.10",
		"DestinationPort": 443,
	})
	assert.Empty(t, matches)
}

func TestCheckEventMatchesExec(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "shell.yml", execRule)

	d := newTestDetector(t, dir)

	matches := d.CheckEvent(context.Background(), map[string]interface{}{
		"Image":       "/bin/sh",
		"CommandLine": "sh -c id",
	})
	require.Len(t, matches, 1)
	assert.Equal(t, "high", matches[0].Rule.Level)
}

func TestReloadPicksUpNewRules(t *testing.T) {
	dir := t.TempDir()
	d := newTestDetector(t, dir)
	assert.Equal(t, 0, d.RuleCount())

	writeRule(t, dir, "port.yml", connectRule)
	require.NoError(t, d.LoadRules())
	assert.Equal(t, 1, d.RuleCount())
}
