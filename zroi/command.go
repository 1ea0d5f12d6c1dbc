/*
	This file holds types and functions supporting command-line activity in zroi.
*/

package zroi

import (
	"strings"
)

// Command is a command line split into arguments.  The first item in the string
// slice is the command, e.g., "serve" or "indices".  The other arguments are command
// arguments or optional settings of the form "<key>=<value>".
type Command []string

// String returns a space-separated command line
func (cmd Command) String() string {
	return strings.Join([]string(cmd), " ")
}

// Name returns the first argument which is assumed to be the name of the command.
func (cmd Command) Name() string {
	if len(cmd) == 0 {
		return ""
	}
	return cmd[0]
}

// Argument returns the nth positional argument, skipping any "key=value" settings,
// where the command name itself is argument 0.  Returns the empty string if there
// aren't enough arguments.
func (cmd Command) Argument(pos int) string {
	var cur int
	for i, arg := range cmd {
		if i > 0 && isSetting(arg) {
			continue
		}
		if cur == pos {
			return arg
		}
		cur++
	}
	return ""
}

// Parameter scans a command for any "key=value" argument and returns
// the value of the passed 'key'.
func (cmd Command) Parameter(key string) (value string, found bool) {
	if len(cmd) > 1 {
		for _, arg := range cmd[1:] {
			elems := strings.SplitN(arg, "=", 2)
			if len(elems) == 2 && elems[0] == key {
				return elems[1], true
			}
		}
	}
	return
}

// Settings returns all "key=value" arguments.
func (cmd Command) Settings() map[string]string {
	settings := make(map[string]string)
	if len(cmd) > 1 {
		for _, arg := range cmd[1:] {
			if isSetting(arg) {
				elems := strings.SplitN(arg, "=", 2)
				settings[elems[0]] = elems[1]
			}
		}
	}
	return settings
}

// a setting has a key without path or URL characters before the "=".
func isSetting(arg string) bool {
	pos := strings.Index(arg, "=")
	if pos <= 0 {
		return false
	}
	return !strings.ContainsAny(arg[:pos], "/:.")
}
