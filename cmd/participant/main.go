// Command participant runs one 2PC resource manager: it owns a single
// account balance and votes on, then applies or discards, transactions
// the coordinator drives it through.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/anandp/concord/internal/config"
	"github.com/anandp/concord/internal/twophase"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "participant",
		Short: "Run a 2PC account participant",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadParticipant(configPath)
			if err != nil {
				return err
			}

			server, err := twophase.NewParticipantServer(cfg)
			if err != nil {
				return err
			}

			logrus.WithField("account", cfg.AccountName).Info("participant: starting")
			return server.Serve()
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to participant YAML config")
	_ = root.MarkFlagRequired("config")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
