package engine

import (
	"fmt"
	"strings"
	"time"
)

// Target type discriminators used for adapter registration and dispatch.
const (
	TypeLocal        = "local"
	TypeSSH          = "ssh"
	TypeDocker       = "docker"
	TypeRemoteDocker = "remote-docker"
)

// Target is the tagged union of execution backends. Each variant carries
// the identity of the host/container a Command runs against.
type Target interface {
	Type() string
	Validate() error
	isTarget()
}

// LocalTarget runs commands on the local host.
type LocalTarget struct{}

func (LocalTarget) Type() string    { return TypeLocal }
func (LocalTarget) Validate() error { return nil }
func (LocalTarget) isTarget()       {}

// PoolSettings tunes the SSH connection pool for a target.
// Zero values fall back to the pool defaults.
type PoolSettings struct {
	Enabled        bool
	MaxConnections int
	IdleTimeout    time.Duration
	KeepAlive      bool
}

// SSHTarget identifies a remote host reached over SSH.
type SSHTarget struct {
	Host           string
	Port           int
	Username       string
	Password       string
	PrivateKey     []byte
	PrivateKeyPath string
	Passphrase     string
	ConnectTimeout time.Duration
	Pool           *PoolSettings
}

func (t SSHTarget) Type() string { return TypeSSH }
func (t SSHTarget) isTarget()    {}

func (t SSHTarget) Validate() error {
	if strings.TrimSpace(t.Host) == "" {
		return wrapInvalidTarget("ssh target missing host")
	}
	if t.Port < 0 || t.Port > 65535 {
		return wrapInvalidTarget(fmt.Sprintf("ssh target port %d out of range", t.Port))
	}
	if strings.TrimSpace(t.Username) == "" {
		return wrapInvalidTarget("ssh target missing username")
	}
	if t.Password != "" && (len(t.PrivateKey) > 0 || t.PrivateKeyPath != "") {
		return wrapInvalidTarget("ssh target has both password and private key auth")
	}
	if t.Password == "" && len(t.PrivateKey) == 0 && t.PrivateKeyPath == "" {
		return wrapInvalidTarget("ssh target missing auth method")
	}
	return nil
}

// Key is the pool identity for this target: user@host:port.
func (t SSHTarget) Key() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s@%s:%d", t.Username, t.Host, port)
}

// Addr returns the dialable host:port.
func (t SSHTarget) Addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", t.Host, port)
}

// AutoCreate configures on-demand creation of a missing container.
type AutoCreate struct {
	Enabled    bool
	Image      string
	AutoRemove bool
	Volumes    []string
}

// DockerTarget identifies a container on the local Docker daemon.
type DockerTarget struct {
	Container  string
	User       string
	Workdir    string
	TTY        bool
	AutoCreate *AutoCreate
}

func (t DockerTarget) Type() string { return TypeDocker }
func (t DockerTarget) isTarget()    {}

func (t DockerTarget) Validate() error {
	if strings.TrimSpace(t.Container) == "" {
		return wrapInvalidTarget("docker target missing container")
	}
	if t.AutoCreate != nil && t.AutoCreate.Enabled && strings.TrimSpace(t.AutoCreate.Image) == "" {
		return wrapInvalidTarget("docker target auto-create missing image")
	}
	return nil
}

// RemoteDockerTarget identifies a container reached through an SSH hop.
type RemoteDockerTarget struct {
	SSH    SSHTarget
	Docker DockerTarget
}

func (t RemoteDockerTarget) Type() string { return TypeRemoteDocker }
func (t RemoteDockerTarget) isTarget()    {}

func (t RemoteDockerTarget) Validate() error {
	if err := t.SSH.Validate(); err != nil {
		return err
	}
	return t.Docker.Validate()
}

func wrapInvalidTarget(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidTarget, reason)
}
