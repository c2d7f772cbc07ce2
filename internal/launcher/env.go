package launcher

import (
	"strings"
)

// defaultPath seeds PATH when a cleaned environment would otherwise
// have none.
const defaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// BuildEnv shapes the payload environment from base. Without clean the
// base passes through unchanged. With clean, only TERM and the names on
// the passthrough list survive, and PATH falls back to a fixed default
// unless passed through.
func BuildEnv(base []string, clean bool, passthrough []string) []string {
	if !clean {
		return base
	}

	allowed := map[string]bool{"TERM": true}
	for _, name := range passthrough {
		allowed[name] = true
	}

	env := make([]string, 0, len(allowed)+1)

	hasPath := false

	for _, kv := range base {
		name, _, ok := strings.Cut(kv, "=")
		if !ok || !allowed[name] {
			continue
		}

		if name == "PATH" {
			hasPath = true
		}

		env = append(env, kv)
	}

	if !hasPath {
		env = append(env, "PATH="+defaultPath)
	}

	return env
}
