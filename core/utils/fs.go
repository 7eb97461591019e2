// fs.go - Key file helpers.
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

package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Exists returns true if f exists.  Stat failures other than f not
// existing are returned.
func Exists(f string) (bool, error) {
	_, err := os.Stat(f)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// PairExists returns true if both a and b exist and false if neither
// does.  Key pairs split across two files must never be half present, so
// anything else is an error.
func PairExists(a, b string) (bool, error) {
	aOk, err := Exists(a)
	if err != nil {
		return false, err
	}
	bOk, err := Exists(b)
	if err != nil {
		return false, err
	}
	if aOk != bOk {
		return false, fmt.Errorf("utils: %s and %s must either both exist or not exist", a, b)
	}
	return aOk, nil
}

// WriteFileAtomic writes b to f with mode 0600, so that f is either
// absent or complete even if the broker dies part way through.
func WriteFileAtomic(f string, b []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(f), "."+filepath.Base(f)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err = tmp.Chmod(0600); err == nil {
		if _, err = tmp.Write(b); err == nil {
			err = tmp.Sync()
		}
	}
	if cErr := tmp.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmpName, f)
}
