// Command paxosnode runs one member of a single-decree Paxos cluster. It
// takes on all three roles — acceptor, learner, and proposer — and
// serves RPC until killed.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/anandp/concord/internal/config"
	"github.com/anandp/concord/internal/paxos"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "paxosnode",
		Short: "Run a single-decree Paxos cluster node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadPaxosNode(configPath)
			if err != nil {
				return err
			}

			node, err := paxos.NewNode(cfg)
			if err != nil {
				return err
			}

			logrus.WithField("node_id", cfg.NodeID).Info("paxosnode: starting")
			return node.Serve()
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to node YAML config")
	_ = root.MarkFlagRequired("config")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
