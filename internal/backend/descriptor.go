// Package backend manages the lifecycle of object-storage backends under test:
// describing them, launching them as processes or containers, probing their
// readiness, and tearing them down.
package backend

import (
	"fmt"
	"net"
	"strings"
)

// Kind identifies how a backend is packaged and launched.
type Kind string

const (
	// KindProcess is a backend started as a plain OS process.
	KindProcess Kind = "process"
	// KindContainer is a backend started as a Docker container.
	KindContainer Kind = "container"
)

// ReadinessCheck describes the HTTP probe used to decide that a backend
// accepts connections.
type ReadinessCheck struct {
	Scheme string // "http" or "https", defaults to "http"
	Path   string // probe path, defaults to "/"
	// ExpectStatus is the status code that counts as ready. Zero means any
	// HTTP response counts, since a well-formed error reply still proves the
	// backend is listening.
	ExpectStatus int
}

// Descriptor describes how to start one backend variant. It is plain data and
// is never mutated after validation.
type Descriptor struct {
	Name string
	Kind Kind

	// Command is the argv for a process backend.
	Command []string

	// Image, Args, Ports and Volumes configure a container backend.
	Image   string
	Args    []string
	Ports   []string // docker -p values, e.g. "9000:9000"
	Volumes []string // docker -v values, e.g. "miniodata:/data"

	// Env is injected into the backend process or container.
	Env map[string]string

	// Address is the host:port the backend listens on.
	Address string

	AccessKey string
	SecretKey string
	Region    string

	Readiness ReadinessCheck
}

// ConfigError reports a malformed descriptor. It aborts the harness before
// any backend is launched.
type ConfigError struct {
	Backend string
	Reason  string
}

func (e *ConfigError) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid backend %q: %s", e.Backend, e.Reason)
}

// Validate checks that the descriptor is complete enough to launch.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return &ConfigError{Reason: "backend name is required"}
	}
	switch d.Kind {
	case KindProcess:
		if len(d.Command) == 0 {
			return &ConfigError{Backend: d.Name, Reason: "process backend requires a command"}
		}
	case KindContainer:
		if d.Image == "" {
			return &ConfigError{Backend: d.Name, Reason: "container backend requires an image"}
		}
	default:
		return &ConfigError{Backend: d.Name, Reason: fmt.Sprintf("unknown kind %q", d.Kind)}
	}
	host, port, err := net.SplitHostPort(d.Address)
	if err != nil || host == "" || port == "" {
		return &ConfigError{Backend: d.Name, Reason: fmt.Sprintf("address %q is not host:port", d.Address)}
	}
	if d.AccessKey == "" || d.SecretKey == "" {
		return &ConfigError{Backend: d.Name, Reason: "access key and secret key are required"}
	}
	if d.Region == "" {
		return &ConfigError{Backend: d.Name, Reason: "region is required"}
	}
	if s := d.Readiness.Scheme; s != "" && s != "http" && s != "https" {
		return &ConfigError{Backend: d.Name, Reason: fmt.Sprintf("readiness scheme %q is not http or https", s)}
	}
	if p := d.Readiness.Path; p != "" && !strings.HasPrefix(p, "/") {
		return &ConfigError{Backend: d.Name, Reason: fmt.Sprintf("readiness path %q must start with /", p)}
	}
	return nil
}

// EndpointURL returns the base URL a client should use to reach the backend.
func (d Descriptor) EndpointURL() string {
	scheme := d.Readiness.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s", scheme, d.Address)
}
