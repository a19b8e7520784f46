package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cosync/core"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var env string
	root := &cobra.Command{
		Use:   "cosyncd",
		Short: "cosync CoValue sync engine node",
	}
	root.PersistentFlags().StringVar(&env, "env", "", "configuration environment overlay")
	root.AddCommand(nodeCmd(&env))
	root.AddCommand(covalueCmd(&env))
	root.AddCommand(peersCmd(&env))
	return root
}

func nodeCmd(env *string) *cobra.Command {
	cmd := &cobra.Command{Use: "node", Short: "node lifecycle commands"}
	cmd.AddCommand(nodeStartCmd(env))
	return cmd
}

func nodeStartCmd(env *string) *cobra.Command {
	var debugAddr string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the sync engine and debug HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(*env)
			if err != nil {
				return err
			}
			if debugAddr == "" {
				debugAddr = app.cfg.HTTP.DebugAddr
			}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := app.Start(ctx); err != nil {
				return err
			}
			defer app.Shutdown()

			srv := NewDebugServer(debugAddr, app)
			go func() {
				if err := srv.Start(); err != nil {
					app.logger.Warnf("debug server stopped: %v", err)
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh
			app.logger.Info("shutting down")
			return nil
		},
	}
	cmd.Flags().StringVar(&debugAddr, "debug-addr", "", "debug HTTP server listen address")
	return cmd
}

func covalueCmd(env *string) *cobra.Command {
	cmd := &cobra.Command{Use: "covalue", Short: "inspect and load CoValues"}
	cmd.AddCommand(covalueLoadCmd(env))
	cmd.AddCommand(covalueStatusCmd(env))
	return cmd
}

func parseCoValueID(hexID string) (core.CoValueID, error) {
	var id core.CoValueID
	raw, err := hex.DecodeString(hexID)
	if err != nil || len(raw) != len(id) {
		return id, fmt.Errorf("bad covalue id %q", hexID)
	}
	copy(id[:], raw)
	return id, nil
}

func covalueLoadCmd(env *string) *cobra.Command {
	return &cobra.Command{
		Use:   "load <id>",
		Short: "request a CoValue from every connected peer and wait for it to become available",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCoValueID(args[0])
			if err != nil {
				return err
			}
			app, err := NewApp(*env)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer app.Shutdown()

			c := app.node.LoadCoValue(id)
			if err := app.sync.LoadWithLimit(ctx, c, app.node.Peers()); err != nil {
				return err
			}
			if err := c.WaitAvailable(ctx); err != nil {
				return err
			}
			fmt.Println("available:", c.KnownState())
			return nil
		},
	}
}

func covalueStatusCmd(env *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "print a CoValue's current lifecycle state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCoValueID(args[0])
			if err != nil {
				return err
			}
			app, err := NewApp(*env)
			if err != nil {
				return err
			}
			c, ok := app.node.Get(id)
			if !ok {
				fmt.Println("unknown")
				return nil
			}
			fmt.Println(c.State())
			return nil
		},
	}
}

func peersCmd(env *string) *cobra.Command {
	cmd := &cobra.Command{Use: "peers", Short: "peer inspection commands"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "list currently connected peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(*env)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer app.Shutdown()
			for _, p := range app.node.Peers() {
				fmt.Printf("%s\t%s\n", p.ID(), p.Role())
			}
			return nil
		},
	})
	return cmd
}
