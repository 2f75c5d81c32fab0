// Package config loads the static, out-of-band configuration each node
// needs at start: cluster membership for Paxos nodes, and peer addresses
// plus per-account settings for the 2PC coordinator and participants.
// None of it is mutated at runtime; role assignment (who proposes, who
// coordinates, which account a participant owns) is an administrator
// decision baked into these files, not something the protocols decide.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Peer identifies one member of the Paxos cluster.
type Peer struct {
	ID   int    `yaml:"id"`
	Addr string `yaml:"addr"`
}

// PaxosNode is the configuration for a single Paxos acceptor/proposer/
// learner process.
type PaxosNode struct {
	NodeID      int    `yaml:"node_id"`
	NodeIndex   int    `yaml:"node_index"`
	Peers       []Peer `yaml:"peers"`
	Listen      string `yaml:"listen"`
	AuthKey     string `yaml:"auth_key"`
	ReplicaFile string `yaml:"replica_file"`
}

// Coordinator is the configuration for the 2PC coordinator process.
type Coordinator struct {
	Listen       string `yaml:"listen"`
	AuthKey      string `yaml:"auth_key"`
	ParticipantA string `yaml:"participant_a"`
	ParticipantB string `yaml:"participant_b"`
	LogFile      string `yaml:"log_file"`
}

// Participant is the configuration for one 2PC resource manager.
type Participant struct {
	Listen          string `yaml:"listen"`
	AuthKey         string `yaml:"auth_key"`
	AccountName     string `yaml:"account_name"`
	AccountFile     string `yaml:"account_file"`
	PreparedFile    string `yaml:"prepared_file"`
	LogFile         string `yaml:"log_file"`
	CrashBeforeVote bool   `yaml:"crash_before_vote"`
	CrashAfterVote  bool   `yaml:"crash_after_vote"`
}

// LoadPaxosNode reads and parses a Paxos node config file.
func LoadPaxosNode(path string) (*PaxosNode, error) {
	var cfg PaxosNode
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadCoordinator reads and parses a 2PC coordinator config file.
func LoadCoordinator(path string) (*Coordinator, error) {
	var cfg Coordinator
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadParticipant reads and parses a 2PC participant config file.
func LoadParticipant(path string) (*Participant, error) {
	var cfg Participant
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func load(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "config: read %s", path)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "config: parse %s", path)
	}
	return nil
}
