package engine

import (
	"os"
	"strings"
)

// Invocation is a fully resolved engine command line.
type Invocation struct {
	Binary string
	Args   []string
	// Env holds KEY=VALUE entries layered over the parent environment.
	Env []string
}

// Argv returns the binary followed by its arguments.
func (inv Invocation) Argv() []string {
	argv := make([]string, 0, len(inv.Args)+1)
	argv = append(argv, inv.Binary)
	return append(argv, inv.Args...)
}

// Environ returns the parent environment with Env applied on top.
func (inv Invocation) Environ() []string {
	return append(os.Environ(), inv.Env...)
}

// LookupEnv returns the value Env assigns to key.
func (inv Invocation) LookupEnv(key string) (string, bool) {
	prefix := key + "="
	value, found := "", false
	for _, entry := range inv.Env {
		if strings.HasPrefix(entry, prefix) {
			value, found = strings.TrimPrefix(entry, prefix), true
		}
	}
	return value, found
}

// FormatCommand renders argv as a single shell-quoted line for logs.
func FormatCommand(argv []string) string {
	parts := make([]string, 0, len(argv))
	for _, arg := range argv {
		parts = append(parts, shellQuote(arg))
	}
	return strings.Join(parts, " ")
}

func shellQuote(arg string) string {
	if arg == "" {
		return "''"
	}
	safe := true
	for _, r := range arg {
		if !isShellSafe(r) {
			safe = false
			break
		}
	}
	if safe {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'"'"'`) + "'"
}

func isShellSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("@%+=:,./-_", r)
}
