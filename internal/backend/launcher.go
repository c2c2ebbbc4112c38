package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// LaunchError reports that a backend failed to start. It is a per-backend
// failure; the harness continues with other backends.
type LaunchError struct {
	Backend string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Backend, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// TeardownError reports that stopping a backend failed. The handle is still
// considered torn down; the error is surfaced so stale resources are visible.
type TeardownError struct {
	Backend string
	Err     error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown %s: %v", e.Backend, e.Err)
}

func (e *TeardownError) Unwrap() error { return e.Err }

// Handle references a launched backend. Handles are created and owned by a
// Launcher; callers hold them only to request teardown.
type Handle interface {
	// ID uniquely identifies this launch.
	ID() string
	// Backend is the descriptor name the handle was launched from.
	Backend() string
	// StartedAt is when the backend was started.
	StartedAt() time.Time
}

type processHandle struct {
	id        string
	backend   string
	startedAt time.Time
	cmd       *exec.Cmd
	waitCh    chan error
	pidFile   string
	output    *bytes.Buffer
	stopped   atomic.Bool
}

func (h *processHandle) ID() string           { return h.id }
func (h *processHandle) Backend() string      { return h.backend }
func (h *processHandle) StartedAt() time.Time { return h.startedAt }

type containerHandle struct {
	id            string
	backend       string
	startedAt     time.Time
	containerName string
	stopped       atomic.Bool
}

func (h *containerHandle) ID() string           { return h.id }
func (h *containerHandle) Backend() string      { return h.backend }
func (h *containerHandle) StartedAt() time.Time { return h.startedAt }

// Launcher starts and stops backends. It enforces exclusive ownership of each
// listen address: launching a descriptor first stops any previous occupant,
// whether from this invocation or a stale one left behind by an earlier run.
type Launcher struct {
	// DockerBin is the docker binary used for container backends.
	DockerBin string

	stateDir string
	mu       sync.Mutex
	active   map[string]Handle // keyed by listen address
}

// NewLauncher creates a Launcher. stateDir holds pid files used to stop stale
// process backends across invocations; if empty, a directory under the OS
// temp dir is used.
func NewLauncher(stateDir string) *Launcher {
	if stateDir == "" {
		stateDir = filepath.Join(os.TempDir(), "s3s-conformance")
	}
	return &Launcher{
		DockerBin: "docker",
		stateDir:  stateDir,
		active:    make(map[string]Handle),
	}
}

// Launch starts the backend described by d and returns a handle for it.
// Any previous instance bound to d.Address is stopped first.
func (l *Launcher) Launch(ctx context.Context, d Descriptor) (Handle, error) {
	if err := l.ensureStopped(ctx, d); err != nil {
		return nil, &LaunchError{Backend: d.Name, Err: err}
	}

	var (
		h   Handle
		err error
	)
	switch d.Kind {
	case KindProcess:
		h, err = l.launchProcess(ctx, d)
	case KindContainer:
		h, err = l.launchContainer(ctx, d)
	default:
		err = fmt.Errorf("unknown kind %q", d.Kind)
	}
	if err != nil {
		return nil, &LaunchError{Backend: d.Name, Err: err}
	}

	l.mu.Lock()
	l.active[d.Address] = h
	l.mu.Unlock()

	log.Info().
		Str("backend", d.Name).
		Str("kind", string(d.Kind)).
		Str("address", d.Address).
		Str("handle", h.ID()).
		Msg("Backend launched")
	return h, nil
}

// Teardown stops the backend behind h and releases its resources. Calling it
// again for the same handle is a no-op.
func (l *Launcher) Teardown(h Handle) error {
	switch ph := h.(type) {
	case *processHandle:
		return l.teardownProcess(ph)
	case *containerHandle:
		return l.teardownContainer(ph)
	default:
		return &TeardownError{Backend: h.Backend(), Err: fmt.Errorf("handle %s was not created by this launcher", h.ID())}
	}
}

func (l *Launcher) launchProcess(ctx context.Context, d Descriptor) (Handle, error) {
	cmd := exec.Command(d.Command[0], d.Command[1:]...)
	cmd.Env = os.Environ()
	for k, v := range d.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	output := &bytes.Buffer{}
	cmd.Stdout = output
	cmd.Stderr = output

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &processHandle{
		id:        uuid.New().String(),
		backend:   d.Name,
		startedAt: time.Now(),
		cmd:       cmd,
		waitCh:    make(chan error, 1),
		pidFile:   l.pidFilePath(d),
		output:    output,
	}
	go func() { h.waitCh <- cmd.Wait() }()

	if err := l.writePIDFile(h.pidFile, cmd.Process.Pid); err != nil {
		log.Warn().Err(err).Str("backend", d.Name).Msg("Failed to record backend pid")
	}
	return h, nil
}

func (l *Launcher) teardownProcess(h *processHandle) error {
	if h.stopped.Swap(true) {
		return nil
	}
	defer os.Remove(h.pidFile)

	// The process may have exited on its own already.
	select {
	case waitErr := <-h.waitCh:
		if waitErr != nil {
			log.Warn().
				Str("backend", h.backend).
				Err(waitErr).
				Str("output", tailOf(h.output.String())).
				Msg("Backend exited before teardown")
		}
		return nil
	default:
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Signal on a reaped process fails; treat it as already gone.
		return nil
	}
	select {
	case <-h.waitCh:
	case <-time.After(5 * time.Second):
		_ = h.cmd.Process.Kill()
		<-h.waitCh
	}
	return nil
}

func (l *Launcher) launchContainer(ctx context.Context, d Descriptor) (Handle, error) {
	name := containerName(d)
	args := []string{"run", "-d", "--name", name}
	for _, p := range d.Ports {
		args = append(args, "-p", p)
	}
	for _, v := range d.Volumes {
		args = append(args, "-v", v)
	}
	for k, v := range d.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, d.Image)
	args = append(args, d.Args...)

	out, err := exec.CommandContext(ctx, l.DockerBin, args...).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("docker run: %v: %s", err, strings.TrimSpace(string(out)))
	}

	return &containerHandle{
		id:            uuid.New().String(),
		backend:       d.Name,
		startedAt:     time.Now(),
		containerName: name,
	}, nil
}

func (l *Launcher) teardownContainer(h *containerHandle) error {
	if h.stopped.Swap(true) {
		return nil
	}

	var errs []error
	if out, err := exec.Command(l.DockerBin, "stop", h.containerName).CombinedOutput(); err != nil {
		errs = append(errs, fmt.Errorf("docker stop: %v: %s", err, strings.TrimSpace(string(out))))
	}
	if out, err := exec.Command(l.DockerBin, "rm", "-f", h.containerName).CombinedOutput(); err != nil {
		errs = append(errs, fmt.Errorf("docker rm: %v: %s", err, strings.TrimSpace(string(out))))
	}
	if len(errs) > 0 {
		return &TeardownError{Backend: h.backend, Err: errors.Join(errs...)}
	}
	return nil
}

// ensureStopped removes whatever currently occupies the descriptor's address:
// a handle launched earlier in this invocation, a process recorded in the pid
// file by a previous invocation, or a leftover container with our name.
func (l *Launcher) ensureStopped(ctx context.Context, d Descriptor) error {
	l.mu.Lock()
	prev := l.active[d.Address]
	delete(l.active, d.Address)
	l.mu.Unlock()

	if prev != nil {
		if err := l.Teardown(prev); err != nil {
			return err
		}
	}

	switch d.Kind {
	case KindProcess:
		l.killStaleProcess(d)
	case KindContainer:
		// Ignore errors: the container usually does not exist.
		_ = exec.CommandContext(ctx, l.DockerBin, "rm", "-f", containerName(d)).Run()
	}
	return nil
}

func (l *Launcher) killStaleProcess(d Descriptor) {
	pidFile := l.pidFilePath(d)
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		os.Remove(pidFile)
		return
	}
	proc, err := os.FindProcess(pid)
	if err == nil && proc.Signal(syscall.Signal(0)) == nil {
		log.Warn().Str("backend", d.Name).Int("pid", pid).Msg("Killing stale backend from a previous run")
		_ = proc.Kill()
	}
	os.Remove(pidFile)
}

func (l *Launcher) pidFilePath(d Descriptor) string {
	return filepath.Join(l.stateDir, d.Name+".pid")
}

func (l *Launcher) writePIDFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

func containerName(d Descriptor) string {
	return "s3s-conformance-" + d.Name
}

// tailOf keeps diagnostics bounded when a backend is chatty.
func tailOf(s string) string {
	const max = 2048
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
