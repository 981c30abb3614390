package docker

import (
	"sort"

	"github.com/danmuck/xec/internal/engine"
)

// ExecArgs builds the `docker exec` argv for cmd against container name.
// Flag order is fixed: stdio, user, workdir, env, container, command.
func ExecArgs(t engine.DockerTarget, container string, cmd engine.Command) []string {
	argv := []string{"exec"}
	if t.TTY {
		argv = append(argv, "-i", "-t")
	} else if cmd.Stdin != "" {
		argv = append(argv, "-i")
	}
	if t.User != "" {
		argv = append(argv, "-u", t.User)
	}
	// The docker workdir wins over the generic command cwd.
	workdir := t.Workdir
	if workdir == "" {
		workdir = cmd.Cwd
	}
	if workdir != "" {
		argv = append(argv, "-w", workdir)
	}
	for _, k := range sortedKeys(cmd.Env) {
		argv = append(argv, "-e", k+"="+cmd.Env[k])
	}
	argv = append(argv, container)
	if cmd.Shell {
		argv = append(argv, "/bin/sh", "-c", cmd.Line())
		return argv
	}
	argv = append(argv, cmd.Command)
	argv = append(argv, cmd.Args...)
	return argv
}

// CreateArgs builds the `docker run` argv for a long-lived ephemeral
// container hosting subsequent execs.
func CreateArgs(auto engine.AutoCreate, name string) []string {
	argv := []string{"run", "-d", "--name", name}
	if auto.AutoRemove {
		argv = append(argv, "--rm")
	}
	for _, vol := range auto.Volumes {
		argv = append(argv, "-v", vol)
	}
	argv = append(argv, auto.Image, "tail", "-f", "/dev/null")
	return argv
}

// ProbeArgs builds the existence check for a container; a non-zero exit
// means absent.
func ProbeArgs(container string) []string {
	return []string{"container", "inspect", container}
}

// StopArgs builds the cleanup command for an ephemeral container.
func StopArgs(container string) []string {
	return []string{"stop", container}
}

// VersionArgs builds the daemon availability probe.
func VersionArgs() []string {
	return []string{"version", "--format", "{{.Server.Os}}"}
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
