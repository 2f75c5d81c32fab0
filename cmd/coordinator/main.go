// Command coordinator drives the 2PC scenario transactions against the
// two account participants named in its config: it never listens for
// RPC itself, it only calls out.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/anandp/concord/internal/config"
	"github.com/anandp/concord/internal/rpcnet"
	"github.com/anandp/concord/internal/twophase"
)

const peerTimeout = 2 * time.Second

func buildCoordinator(configPath string) (*twophase.Coordinator, func() error, error) {
	cfg, err := config.LoadCoordinator(configPath)
	if err != nil {
		return nil, nil, err
	}

	log, err := twophase.OpenTxnLog(cfg.LogFile)
	if err != nil {
		return nil, nil, err
	}

	client := rpcnet.NewClient(peerTimeout)
	coord := twophase.NewCoordinator(cfg.ParticipantA, cfg.ParticipantB, cfg.AuthKey, client, log)
	return coord, log.Close, nil
}

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "coordinator",
		Short: "Drive 2PC scenario transactions against two participants",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to coordinator YAML config")
	_ = root.MarkPersistentFlagRequired("config")

	root.AddCommand(&cobra.Command{
		Use:   "init-balances <a> <b>",
		Short: "Set both accounts' starting balances",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, closeFn, err := buildCoordinator(configPath)
			if err != nil {
				return err
			}
			defer closeFn()

			var a, b int64
			if _, err := fmt.Sscanf(args[0], "%d", &a); err != nil {
				return fmt.Errorf("coordinator: invalid balance %q: %w", args[0], err)
			}
			if _, err := fmt.Sscanf(args[1], "%d", &b); err != nil {
				return fmt.Errorf("coordinator: invalid balance %q: %w", args[1], err)
			}
			return coord.InitializeBalances(a, b)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "transfer",
		Short: "Run the T1_TRANSFER_100 scenario transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, closeFn, err := buildCoordinator(configPath)
			if err != nil {
				return err
			}
			defer closeFn()

			decision, err := coord.RunTransfer100()
			if err != nil {
				return err
			}
			logrus.WithField("decision", decision).Info("coordinator: transfer finished")
			fmt.Println(decision)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "bonus",
		Short: "Run the T2_BONUS scenario transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, closeFn, err := buildCoordinator(configPath)
			if err != nil {
				return err
			}
			defer closeFn()

			decision, err := coord.RunBonus20Percent()
			if err != nil {
				return err
			}
			logrus.WithField("decision", decision).Info("coordinator: bonus finished")
			fmt.Println(decision)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "balances",
		Short: "Print both accounts' current committed balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, closeFn, err := buildCoordinator(configPath)
			if err != nil {
				return err
			}
			defer closeFn()

			balances, err := coord.GetBalances()
			if err != nil {
				return err
			}
			fmt.Printf("A=%d B=%d\n", balances.A, balances.B)
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
