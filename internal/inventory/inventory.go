// Package inventory resolves named targets from a YAML hosts file, so
// callers can address "web-1" instead of spelling out connection details.
package inventory

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/danmuck/xec/internal/engine"
	"gopkg.in/yaml.v3"
)

var ErrTargetNotFound = errors.New("inventory: target not found")

type File struct {
	Targets map[string]Spec `yaml:"targets"`
}

// Spec is one named target entry. Type selects which block applies.
type Spec struct {
	Type   string      `yaml:"type"`
	SSH    *SSHSpec    `yaml:"ssh,omitempty"`
	Docker *DockerSpec `yaml:"docker,omitempty"`
}

type SSHSpec struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port,omitempty"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password,omitempty"`
	PrivateKeyPath string `yaml:"private_key_path,omitempty"`
	Passphrase     string `yaml:"passphrase,omitempty"`
	ConnectTimeout string `yaml:"connect_timeout,omitempty"`
}

type DockerSpec struct {
	Container  string          `yaml:"container"`
	User       string          `yaml:"user,omitempty"`
	Workdir    string          `yaml:"workdir,omitempty"`
	TTY        bool            `yaml:"tty,omitempty"`
	AutoCreate *AutoCreateSpec `yaml:"auto_create,omitempty"`
}

type AutoCreateSpec struct {
	Enabled    bool     `yaml:"enabled"`
	Image      string   `yaml:"image"`
	AutoRemove bool     `yaml:"auto_remove,omitempty"`
	Volumes    []string `yaml:"volumes,omitempty"`
}

type Inventory struct {
	targets map[string]Spec
}

func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("inventory load failed (%s): %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Inventory, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("inventory parse failed: %w", err)
	}
	inv := &Inventory{targets: f.Targets}
	for name := range f.Targets {
		if _, err := inv.Resolve(name); err != nil {
			return nil, fmt.Errorf("inventory target %q: %w", name, err)
		}
	}
	return inv, nil
}

// Names lists targets in stable order.
func (inv *Inventory) Names() []string {
	out := make([]string, 0, len(inv.targets))
	for name := range inv.targets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Resolve builds the engine target for name.
func (inv *Inventory) Resolve(name string) (engine.Target, error) {
	spec, ok := inv.targets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTargetNotFound, name)
	}
	switch spec.Type {
	case engine.TypeLocal, "":
		return engine.LocalTarget{}, nil
	case engine.TypeSSH:
		if spec.SSH == nil {
			return nil, fmt.Errorf("inventory: ssh target missing ssh block")
		}
		t := sshTarget(*spec.SSH)
		return t, t.Validate()
	case engine.TypeDocker:
		if spec.Docker == nil {
			return nil, fmt.Errorf("inventory: docker target missing docker block")
		}
		t := dockerTarget(*spec.Docker)
		return t, t.Validate()
	case engine.TypeRemoteDocker:
		if spec.SSH == nil || spec.Docker == nil {
			return nil, fmt.Errorf("inventory: remote-docker target needs ssh and docker blocks")
		}
		t := engine.RemoteDockerTarget{
			SSH:    sshTarget(*spec.SSH),
			Docker: dockerTarget(*spec.Docker),
		}
		return t, t.Validate()
	default:
		return nil, fmt.Errorf("inventory: unknown target type %q", spec.Type)
	}
}

func sshTarget(s SSHSpec) engine.SSHTarget {
	t := engine.SSHTarget{
		Host:           s.Host,
		Port:           s.Port,
		Username:       s.Username,
		Password:       s.Password,
		PrivateKeyPath: s.PrivateKeyPath,
		Passphrase:     s.Passphrase,
	}
	if s.ConnectTimeout != "" {
		if d, err := time.ParseDuration(s.ConnectTimeout); err == nil {
			t.ConnectTimeout = d
		}
	}
	return t
}

func dockerTarget(s DockerSpec) engine.DockerTarget {
	t := engine.DockerTarget{
		Container: s.Container,
		User:      s.User,
		Workdir:   s.Workdir,
		TTY:       s.TTY,
	}
	if s.AutoCreate != nil {
		t.AutoCreate = &engine.AutoCreate{
			Enabled:    s.AutoCreate.Enabled,
			Image:      s.AutoCreate.Image,
			AutoRemove: s.AutoCreate.AutoRemove,
			Volumes:    s.AutoCreate.Volumes,
		}
	}
	return t
}
