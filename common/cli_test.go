// cli_test.go - Command line plumbing tests.
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

package common

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestIsUsageError(t *testing.T) {
	require := require.New(t)

	cfgErr := &ConfigError{File: "broker.toml", Err: os.ErrNotExist}
	require.Equal("failed to load config file 'broker.toml': "+os.ErrNotExist.Error(), cfgErr.Error())
	require.ErrorIs(cfgErr, os.ErrNotExist)
	require.True(isUsageError(cfgErr))
	require.True(isUsageError(fmt.Errorf("broker: %w", cfgErr)))

	require.True(isUsageError(errors.New("unknown flag: --bogus")))
	require.True(isUsageError(errors.New(`required flag(s) "url" not set`)))
	require.True(isUsageError(errors.New("accepts 1 arg(s), received 2")))

	require.False(isUsageError(errors.New("failed to spawn broker instance: boom")))
	require.False(isUsageError(errors.New("exit catalog does not verify: unknown flag")))
}

func TestUsageErrorHandler(t *testing.T) {
	require := require.New(t)

	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Overlay network broker",
		Run:   func(*cobra.Command, []string) {},
	}
	cmd.Flags().StringP("config", "f", "broker.toml", "configuration file")
	h := usageErrorHandler(cmd)

	var buf bytes.Buffer
	h(&buf, fang.Styles{}, &ConfigError{File: "missing.toml", Err: os.ErrNotExist})
	out := buf.String()
	require.Contains(out, "failed to load config file 'missing.toml'")
	require.Contains(out, "Usage:")
	require.Contains(out, "--config")

	buf.Reset()
	h(&buf, fang.Styles{}, errors.New("failed to spawn broker instance: boom"))
	out = buf.String()
	require.Contains(out, "boom.")
	require.Contains(out, "--help")
	require.NotContains(out, "Usage:")
}
