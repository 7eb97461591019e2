// main.go - Broker binary.
// Copyright (C) 2026  David Stainton.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/katzenpost/broker/common"
	"github.com/katzenpost/broker/server"
	"github.com/katzenpost/broker/server/config"
)

// Config holds the command line configuration
type Config struct {
	ConfigFile string
	GenOnly    bool
}

// newRootCommand creates the root cobra command
func newRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Overlay network broker",
		Long: `The broker is the coordination service of the overlay network. It issues
anonymous connection credentials to clients, accepts announcements from exits
and bridges, and hands clients the routes to reach an exit.

Core responsibilities:
• Exchanges bearer tokens for blind signatures, so credentials are unlinkable
• Authenticates exit and bridge descriptors with the operator secrets
• Publishes the exit catalog, signed with the broker master key
• Asks bridges to forward to an exit on behalf of authenticated clients`,
		Example: `  # Start the broker with the default configuration file
  broker

  # Start the broker with a specific configuration file
  broker -f /etc/broker/broker.toml

  # Generate the signing keys and exit
  broker -f /etc/broker/broker.toml --generate-only`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBroker(cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.ConfigFile, "config", "f", "broker.toml",
		"path to the broker configuration file (TOML format)")
	cmd.Flags().BoolVarP(&cfg.GenOnly, "generate-only", "g", false,
		"generate signing keys and exit without starting the broker")

	return cmd
}

func main() {
	rootCmd := newRootCommand()
	common.ExecuteWithFang(rootCmd)
}

// runBroker starts the broker server
func runBroker(cfg Config) error {
	// Set the umask to something "paranoid".
	common.Umask(0077)

	brokerCfg, err := config.LoadFile(cfg.ConfigFile, cfg.GenOnly)
	if err != nil {
		return &common.ConfigError{File: cfg.ConfigFile, Err: err}
	}

	// Setup the signal handling.
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	rotateCh := make(chan os.Signal, 1)
	signal.Notify(rotateCh, syscall.SIGHUP)

	// Start up the broker.
	svr, err := server.New(brokerCfg)
	if err != nil {
		if errors.Is(err, server.ErrGenerateOnly) {
			return nil
		}
		return fmt.Errorf("failed to spawn broker instance: %v", err)
	}
	defer svr.Shutdown()

	// Halt the broker gracefully on SIGINT/SIGTERM.
	go func() {
		<-ch
		svr.Shutdown()
	}()

	// Rotate server logs upon SIGHUP.
	go func() {
		for range rotateCh {
			svr.RotateLog()
		}
	}()

	// Wait for the broker to explode or be terminated.
	svr.Wait()
	return nil
}
