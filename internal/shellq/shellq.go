// Package shellq renders argv vectors as POSIX shell lines for transports
// that only carry a single command string (ssh exec, docker exec -c).
package shellq

import "strings"

const unsafe = " \t\n'\"\\$`&|;<>()*?[]{}#~"

// Quote single-quotes arg when it contains any shell-significant byte.
func Quote(arg string) string {
	if arg != "" && !strings.ContainsAny(arg, unsafe) {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

// Join renders argv as one shell-safe line.
func Join(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = Quote(arg)
	}
	return strings.Join(quoted, " ")
}
