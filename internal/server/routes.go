package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danmuck/xec/internal/engine"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": "xecd",
			"version": version,
		})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/v1/targets", s.handleTargets)
	s.router.POST("/v1/execute", s.handleExecute)
}

type executeRequest struct {
	Command   string            `json:"command" binding:"required"`
	Args      []string          `json:"args"`
	Cwd       string            `json:"cwd"`
	Env       map[string]string `json:"env"`
	Stdin     string            `json:"stdin"`
	Shell     bool              `json:"shell"`
	TimeoutMS int64             `json:"timeout_ms"`
	NoThrow   bool              `json:"nothrow"`
	Retry     *retrySpec        `json:"retry"`
	Target    string            `json:"target"`
	Adapter   *adapterOptions   `json:"adapter_options"`
}

type retrySpec struct {
	MaxRetries     int     `json:"max_retries"`
	InitialDelayMS int64   `json:"initial_delay_ms"`
	Multiplier     float64 `json:"multiplier"`
	MaxDelayMS     int64   `json:"max_delay_ms"`
	Jitter         bool    `json:"jitter"`
}

// adapterOptions is the wire form of the target tagged union; Type
// selects which fields apply.
type adapterOptions struct {
	Type string `json:"type"`

	Host           string `json:"host,omitempty"`
	Port           int    `json:"port,omitempty"`
	Username       string `json:"username,omitempty"`
	Password       string `json:"password,omitempty"`
	PrivateKeyPath string `json:"private_key_path,omitempty"`
	Passphrase     string `json:"passphrase,omitempty"`

	Container  string          `json:"container,omitempty"`
	User       string          `json:"user,omitempty"`
	Workdir    string          `json:"workdir,omitempty"`
	TTY        bool            `json:"tty,omitempty"`
	AutoCreate *autoCreateSpec `json:"auto_create,omitempty"`

	SSH    *adapterOptions `json:"ssh,omitempty"`
	Docker *adapterOptions `json:"docker,omitempty"`
}

type autoCreateSpec struct {
	Enabled    bool     `json:"enabled"`
	Image      string   `json:"image"`
	AutoRemove bool     `json:"auto_remove,omitempty"`
	Volumes    []string `json:"volumes,omitempty"`
}

func (s *Server) handleTargets(c *gin.Context) {
	if s.inventory == nil {
		c.JSON(http.StatusOK, gin.H{"targets": []string{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"targets": s.inventory.Names()})
}

func (s *Server) handleExecute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd, err := s.buildCommand(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.engine.Execute(c.Request.Context(), cmd)
	if err != nil {
		status, body := failureResponse(err)
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

func (s *Server) buildCommand(req executeRequest) (engine.Command, error) {
	target, err := s.resolveTarget(req)
	if err != nil {
		return engine.Command{}, err
	}
	cmd := engine.Command{
		Command: req.Command,
		Args:    req.Args,
		Cwd:     req.Cwd,
		Env:     req.Env,
		Stdin:   req.Stdin,
		Shell:   req.Shell,
		Timeout: time.Duration(req.TimeoutMS) * time.Millisecond,
		NoThrow: req.NoThrow,
		Target:  target,
	}
	if req.Retry != nil {
		cmd.Retry = &engine.RetryPolicy{
			MaxRetries:   req.Retry.MaxRetries,
			InitialDelay: time.Duration(req.Retry.InitialDelayMS) * time.Millisecond,
			Multiplier:   req.Retry.Multiplier,
			MaxDelay:     time.Duration(req.Retry.MaxDelayMS) * time.Millisecond,
			Jitter:       req.Retry.Jitter,
		}
	}
	return cmd, nil
}

func (s *Server) resolveTarget(req executeRequest) (engine.Target, error) {
	switch {
	case req.Target != "" && req.Adapter != nil:
		return nil, fmt.Errorf("request has both target name and adapter_options")
	case req.Target != "":
		if s.inventory == nil {
			return nil, fmt.Errorf("no inventory configured, cannot resolve target %q", req.Target)
		}
		return s.inventory.Resolve(req.Target)
	case req.Adapter != nil:
		return decodeTarget(*req.Adapter)
	default:
		return engine.LocalTarget{}, nil
	}
}

func decodeTarget(opts adapterOptions) (engine.Target, error) {
	switch opts.Type {
	case engine.TypeLocal, "":
		return engine.LocalTarget{}, nil
	case engine.TypeSSH:
		return sshTarget(opts), nil
	case engine.TypeDocker:
		return dockerTarget(opts), nil
	case engine.TypeRemoteDocker:
		if opts.SSH == nil || opts.Docker == nil {
			return nil, fmt.Errorf("remote-docker adapter_options need ssh and docker blocks")
		}
		return engine.RemoteDockerTarget{
			SSH:    sshTarget(*opts.SSH),
			Docker: dockerTarget(*opts.Docker),
		}, nil
	default:
		return nil, fmt.Errorf("unknown adapter_options type %q", opts.Type)
	}
}

func sshTarget(opts adapterOptions) engine.SSHTarget {
	return engine.SSHTarget{
		Host:           opts.Host,
		Port:           opts.Port,
		Username:       opts.Username,
		Password:       opts.Password,
		PrivateKeyPath: opts.PrivateKeyPath,
		Passphrase:     opts.Passphrase,
	}
}

func dockerTarget(opts adapterOptions) engine.DockerTarget {
	t := engine.DockerTarget{
		Container: opts.Container,
		User:      opts.User,
		Workdir:   opts.Workdir,
		TTY:       opts.TTY,
	}
	if opts.AutoCreate != nil {
		t.AutoCreate = &engine.AutoCreate{
			Enabled:    opts.AutoCreate.Enabled,
			Image:      opts.AutoCreate.Image,
			AutoRemove: opts.AutoCreate.AutoRemove,
			Volumes:    opts.AutoCreate.Volumes,
		}
	}
	return t
}

// failureResponse maps engine failures to HTTP statuses: command-level
// failures are 422 with the full attempt record attached, configuration
// problems 400, transport problems 502.
func failureResponse(err error) (int, gin.H) {
	var cmdErr *engine.CommandError
	if errors.As(err, &cmdErr) {
		return http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "result": cmdErr.Result}
	}
	var retryErr *engine.RetryError
	if errors.As(err, &retryErr) {
		return http.StatusUnprocessableEntity, gin.H{
			"error":    err.Error(),
			"attempts": retryErr.Attempts,
			"results":  retryErr.Results,
			"result":   retryErr.Last,
		}
	}
	var cfgErr *engine.ConfigError
	if errors.As(err, &cfgErr) {
		return http.StatusBadRequest, gin.H{"error": err.Error(), "issues": cfgErr.Issues}
	}
	if errors.Is(err, engine.ErrInvalidCommand) || errors.Is(err, engine.ErrInvalidTarget) || errors.Is(err, engine.ErrAdapterNotFound) {
		return http.StatusBadRequest, gin.H{"error": err.Error()}
	}
	var connErr *engine.ConnectError
	var dockerErr *engine.DockerError
	var timeoutErr *engine.TimeoutError
	if errors.As(err, &connErr) || errors.As(err, &dockerErr) || errors.As(err, &timeoutErr) {
		return http.StatusBadGateway, gin.H{"error": err.Error()}
	}
	return http.StatusInternalServerError, gin.H{"error": err.Error()}
}
