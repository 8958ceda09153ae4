// Package venv models a Python virtual environment as an explicit value.
//
// The original setup script relied on `source venv/bin/activate` mutating the
// shell for every later command. Here the environment is a plain struct and
// every caller asks it for the interpreter path (and, when needed, the
// VIRTUAL_ENV/PATH variables) instead of depending on ambient state.
package venv

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
)

// Layout is the directory structure of a venv, which differs between
// Windows and everything else.
type Layout int

const (
	// LayoutPOSIX places executables in <dir>/bin.
	LayoutPOSIX Layout = iota
	// LayoutWindows places executables in <dir>\Scripts with .exe suffixes.
	LayoutWindows
)

// HostLayout returns the layout venvs created on this machine use.
func HostLayout() Layout {
	if runtime.GOOS == "windows" {
		return LayoutWindows
	}
	return LayoutPOSIX
}

// Environment is a virtual environment rooted at Dir.
type Environment struct {
	Dir    string
	Layout Layout
}

// New returns the environment at dir using the host layout.
func New(dir string) Environment {
	return Environment{Dir: dir, Layout: HostLayout()}
}

// BinDir returns the directory holding the venv's executables.
func (e Environment) BinDir() string {
	if e.Layout == LayoutWindows {
		return filepath.Join(e.Dir, "Scripts")
	}
	// Sandbox paths are container paths and always use forward slashes.
	return path.Join(filepath.ToSlash(e.Dir), "bin")
}

// Python returns the path of the venv's interpreter.
func (e Environment) Python() string {
	return e.executable("python")
}

// Pip returns the path of the venv's pip launcher.
func (e Environment) Pip() string {
	return e.executable("pip")
}

func (e Environment) executable(name string) string {
	if e.Layout == LayoutWindows {
		return filepath.Join(e.BinDir(), name+".exe")
	}
	return path.Join(e.BinDir(), name)
}

// Exists reports whether the venv directory holds an interpreter. The
// interpreter is usually a symlink to the base Python, which may not resolve
// on the host when the venv was created inside the sandbox, so the link
// itself is checked rather than its target.
func (e Environment) Exists() bool {
	_, err := os.Lstat(filepath.FromSlash(e.Python()))
	return err == nil
}

// Remove deletes the venv directory and everything in it.
func (e Environment) Remove() error {
	if err := os.RemoveAll(e.Dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing virtual environment %s: %w", e.Dir, err)
	}
	return nil
}

// Env returns the variables a process needs to behave as if the venv were
// activated, given the PATH it would otherwise inherit.
func (e Environment) Env(basePath string) map[string]string {
	sep := string(os.PathListSeparator)
	if e.Layout == LayoutPOSIX {
		sep = ":"
	}
	p := e.BinDir()
	if basePath != "" {
		p += sep + basePath
	}
	return map[string]string{
		"VIRTUAL_ENV": e.Dir,
		"PATH":        p,
	}
}
