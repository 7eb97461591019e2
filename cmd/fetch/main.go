// main.go - Fetch and verify the broker exit catalog.
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
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	signpem "github.com/katzenpost/hpqc/sign/pem"

	"github.com/katzenpost/broker/common"
	"github.com/katzenpost/broker/protocol"
	"github.com/katzenpost/broker/rpc"
)

// Config holds the command line configuration
type Config struct {
	URL           string
	MasterKeyFile string
	Timeout       time.Duration
}

func newRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the broker exit catalog",
		Long: `Fetches the exit catalog from a broker, verifies it against the broker
master public key, and prints the exits it lists.`,
		Example: `  fetch -u http://127.0.0.1:8080 -k /var/lib/broker/master.public.pem`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd.OutOrStdout(), cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.URL, "url", "u", "http://127.0.0.1:8080", "broker RPC URL")
	cmd.Flags().StringVarP(&cfg.MasterKeyFile, "master-key", "k", "master.public.pem",
		"path to the broker master public key (PEM format)")
	cmd.Flags().DurationVarP(&cfg.Timeout, "timeout", "t", 30*time.Second, "request timeout")

	return cmd
}

func main() {
	common.ExecuteWithFang(newRootCommand())
}

func runFetch(w io.Writer, cfg Config) error {
	masterKey, err := signpem.FromPublicPEMFile(cfg.MasterKeyFile, protocol.SignatureScheme)
	if err != nil {
		return fmt.Errorf("failed to load master key '%v': %v", cfg.MasterKeyFile, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	signed, err := rpc.NewClient(cfg.URL, nil).GetExits(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch exits: %v", err)
	}
	list, err := signed.Verify(protocol.DomainExitList, protocol.SignedBy(masterKey))
	if err != nil {
		return fmt.Errorf("exit catalog does not verify: %v", err)
	}

	printExits(w, list, time.Now())
	return nil
}

func printExits(w io.Writer, list *protocol.ExitList, now time.Time) {
	exits := append([]protocol.ExitEntry{}, list.AllExits...)
	sort.Slice(exits, func(i, j int) bool {
		a, b := exits[i].Descriptor, exits[j].Descriptor
		if a.Country != b.Country {
			return a.Country < b.Country
		}
		return a.C2EListen.String() < b.C2EListen.String()
	})

	for _, e := range exits {
		d := e.Descriptor
		city := d.City
		if name, ok := list.CityNames[d.Country]; ok && city == "" {
			city = name
		}
		state := "live"
		if d.Expiry <= uint64(now.Unix()) {
			state = "stale"
		}
		fmt.Fprintf(w, "%s\t%s\t%v\tload %.2f\t%s\t%x\n", d.Country, city, d.C2EListen, d.Load, state, e.PublicKey)
	}
	fmt.Fprintf(w, "%d exits\n", len(exits))
}
