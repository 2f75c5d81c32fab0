package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anandp/concord/internal/config"
)

func TestLoadPaxosNode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	writeFile(t, path, `
node_id: 1
node_index: 0
listen: ":17001"
auth_key: "peekaboo"
replica_file: "replica-1.state"
peers:
  - { id: 1, addr: "127.0.0.1:17001" }
  - { id: 2, addr: "127.0.0.1:17002" }
`)

	cfg, err := config.LoadPaxosNode(path)
	require.NoError(t, err)
	require.Equal(t, 1, cfg.NodeID)
	require.Len(t, cfg.Peers, 2)
	require.Equal(t, "127.0.0.1:17002", cfg.Peers[1].Addr)
}

func TestLoadParticipant(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "participant.yaml")
	writeFile(t, path, `
listen: ":8001"
auth_key: "peekaboo"
account_name: "A"
account_file: "account_A.txt"
prepared_file: "prepared_A.jsonl"
log_file: "log_node1_A.txt"
crash_before_vote: true
`)

	cfg, err := config.LoadParticipant(path)
	require.NoError(t, err)
	require.True(t, cfg.CrashBeforeVote)
	require.False(t, cfg.CrashAfterVote)
	require.Equal(t, "A", cfg.AccountName)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.LoadCoordinator("/nonexistent/path.yaml")
	require.Error(t, err)
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}
