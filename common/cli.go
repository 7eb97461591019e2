// cli.go - Shared command line plumbing.
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

// Package common provides the command line plumbing shared by the broker
// binaries.
package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/colorprofile"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

// cobraUsageErrors are the prefixes of the errors cobra returns for bad
// flags and arguments.
var cobraUsageErrors = []string{
	"flag needs an argument",
	"unknown flag",
	"unknown shorthand flag",
	"unknown command",
	"invalid argument",
	"required flag",
	"accepts ",
	"requires at least",
}

// ConfigError is returned by a command whose configuration could not be
// loaded.  It is reported along with the usage help, as the usual cause
// is a wrong --config path.
type ConfigError struct {
	File string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("failed to load config file '%v': %v", e.File, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ExecuteWithFang runs cmd under fang, with the version taken from the
// build info, and exits with status 1 if it fails.
func ExecuteWithFang(cmd *cobra.Command) {
	if err := fang.Execute(
		context.Background(),
		cmd,
		fang.WithVersion(versioninfo.Short()),
		fang.WithErrorHandler(usageErrorHandler(cmd)),
	); err != nil {
		os.Exit(1)
	}
}

func usageErrorHandler(cmd *cobra.Command) fang.ErrorHandler {
	return func(w io.Writer, styles fang.Styles, err error) {
		_, _ = fmt.Fprintln(w, styles.ErrorHeader.String())
		_, _ = fmt.Fprintln(w, styles.ErrorText.Render(err.Error()+"."))
		_, _ = fmt.Fprintln(w)

		if !isUsageError(err) {
			_, _ = fmt.Fprintln(w, lipgloss.JoinHorizontal(
				lipgloss.Left,
				styles.ErrorText.UnsetWidth().Render("Try"),
				styles.Program.Flag.Render("--help"),
				styles.ErrorText.UnsetWidth().UnsetMargins().UnsetTransform().PaddingLeft(1).Render("for usage."),
			))
			_, _ = fmt.Fprintln(w)
			return
		}

		// The help follows the error on w, downsampled to what w can render.
		cmd.SetOut(colorprofile.NewWriter(w, os.Environ()))
		cmd.HelpFunc()(cmd, nil)
	}
}

func isUsageError(err error) bool {
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return true
	}

	s := err.Error()
	for _, prefix := range cobraUsageErrors {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
