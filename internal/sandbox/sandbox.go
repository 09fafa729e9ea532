// Package sandbox implements the ephemeral hardened execution supervisor:
// profile-selected, locked-down container sessions that run
// scanner/adversarial/patch commands with wall-time caps and
// stream-limited output. Built on an exec.CommandContext + captured-buffers
// idiom (timeout via context, ExitError unwrapping for exit codes) and a
// "run a cheap probe command with a short timeout, boolean result, never
// raise" idiom used by IsRuntimeAvailable/IsImageBuilt.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// Profile selects the pre-built container image and resource ceiling a
// session runs under.
type Profile string

const (
	ProfileGeneric Profile = "generic"
	ProfileSolana  Profile = "solana"
)

// profileSpec is the fixed default for one profile.
type profileSpec struct {
	Image      string
	Memory     string // docker --memory value
	CPUs       string // docker --cpus value
	Network    string // "none" or "host"-equivalent for solana's validator namespace
	PidsLimit  int
	TmpfsBytes int64
}

var profiles = map[Profile]profileSpec{
	ProfileGeneric: {Image: "hydra-sandbox-generic:latest", Memory: "512m", CPUs: "1.0", Network: "none", PidsLimit: 256, TmpfsBytes: 256 << 20},
	ProfileSolana:  {Image: "hydra-sandbox-solana:latest", Memory: "2g", CPUs: "2.0", Network: "hydra-validator-net", PidsLimit: 256, TmpfsBytes: 256 << 20},
}

// maxOutputBytes bounds captured stdout/stderr; exec truncates beyond it
// rather than growing memory unbounded.
const maxOutputBytes = 10 << 20

// ErrorCode enumerates the typed SandboxError categories.
type ErrorCode string

const (
	SandboxUnavailable ErrorCode = "sandbox_unavailable"
	ImageMissing       ErrorCode = "image_missing"
	RuntimeError       ErrorCode = "runtime_error"
)

// Error is the typed failure every Supervisor/Session method returns
// instead of an opaque error, so callers can decide whether to degrade
// rather than abort the scan.
type Error struct {
	Code ErrorCode
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// ExecResult is one command's outcome inside a session.
type ExecResult struct {
	ExitCode   int
	Stdout     []byte
	Stderr     []byte
	TimedOut   bool
	DurationMs int64
}

// Session is one live container. All methods are safe to call concurrently
// with Destroy, which is idempotent and always safe to call more than
// once on any exit path.
type Session struct {
	mu            sync.Mutex
	containerName string
	profile       Profile
	destroyed     bool
}

// Supervisor creates and destroys sandbox sessions.
type Supervisor struct{}

func New() *Supervisor { return &Supervisor{} }

// IsRuntimeAvailable reports whether the container runtime is reachable,
// without raising.
func IsRuntimeAvailable() bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "docker", "info").Run() == nil
}

// IsImageBuilt reports whether the given profile's image is present
// locally, without raising.
func IsImageBuilt(profile Profile) bool {
	spec, ok := profiles[profile]
	if !ok {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "docker", "image", "inspect", spec.Image).Run() == nil
}

// Create starts a locked-down container for profile and returns a Session
// bound to it. A non-empty mountHostPath is bind-mounted read-only at
// mountGuestPath (e.g. a repository checkout).
func (s *Supervisor) Create(ctx context.Context, profile Profile, mountHostPath, mountGuestPath string) (*Session, error) {
	spec, ok := profiles[profile]
	if !ok {
		return nil, &Error{Code: RuntimeError, Msg: fmt.Sprintf("sandbox: unknown profile %q", profile)}
	}
	if !IsRuntimeAvailable() {
		return nil, &Error{Code: SandboxUnavailable, Msg: "sandbox: container runtime is not available"}
	}
	if !IsImageBuilt(profile) {
		return nil, &Error{Code: ImageMissing, Msg: fmt.Sprintf("sandbox: image %q is not built", spec.Image)}
	}

	name := fmt.Sprintf("hydra-%s-%d", profile, time.Now().UnixNano())
	args := []string{
		"run", "-d", "--name", name,
		"--user", "1000:1000",
		"--read-only",
		"--tmpfs", fmt.Sprintf("/tmp:noexec,nosuid,nodev,size=%d", spec.TmpfsBytes),
		"--tmpfs", fmt.Sprintf("/workspace:noexec,nosuid,nodev,size=%d", spec.TmpfsBytes),
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--pids-limit", fmt.Sprint(spec.PidsLimit),
		"--memory", spec.Memory,
		"--cpus", spec.CPUs,
	}
	if spec.Network == "none" {
		args = append(args, "--network", "none")
	} else {
		args = append(args, "--network", spec.Network)
	}
	if mountHostPath != "" {
		args = append(args, "-v", mountHostPath+":"+mountGuestPath+":ro")
	}
	args = append(args, spec.Image, "sleep", "infinity")

	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := exec.CommandContext(cctx, "docker", args...).Run(); err != nil {
		return nil, &Error{Code: RuntimeError, Msg: fmt.Sprintf("sandbox: container create failed: %v", err)}
	}

	return &Session{containerName: name, profile: profile}, nil
}

// boundedBuffer caps how much of a stream is retained; excess bytes past
// the 10 MiB limit are silently discarded rather than raised as an error.
type boundedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
	} else {
		b.buf.Write(p)
	}
	return len(p), nil
}

var _ io.Writer = (*boundedBuffer)(nil)

// Exec runs argv inside the session with a wall-time cap. A timeout yields
// ExitCode=124 and TimedOut=true rather than an error.
func (s *Session) Exec(ctx context.Context, argv []string, timeout time.Duration) (ExecResult, error) {
	s.mu.Lock()
	destroyed := s.destroyed
	name := s.containerName
	s.mu.Unlock()
	if destroyed {
		return ExecResult{}, &Error{Code: RuntimeError, Msg: "sandbox: session already destroyed"}
	}
	if timeout <= 0 {
		timeout = 25 * time.Second
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	full := append([]string{"exec", name}, argv...)
	cmd := exec.CommandContext(cctx, "docker", full...)
	var stdout, stderr boundedBuffer
	stdout.limit, stderr.limit = maxOutputBytes, maxOutputBytes
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if cctx.Err() == context.DeadlineExceeded {
		return ExecResult{ExitCode: 124, Stdout: stdout.buf.Bytes(), Stderr: stderr.buf.Bytes(), TimedOut: true, DurationMs: duration.Milliseconds()}, nil
	}
	result := ExecResult{Stdout: stdout.buf.Bytes(), Stderr: stderr.buf.Bytes(), DurationMs: duration.Milliseconds()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return ExecResult{}, &Error{Code: RuntimeError, Msg: fmt.Sprintf("sandbox: exec failed: %v", err)}
	}
	return result, nil
}

// WriteFile writes data to path inside the session by piping it through a
// shell redirect over docker exec's stdin.
func (s *Session) WriteFile(ctx context.Context, path string, data []byte) error {
	s.mu.Lock()
	name := s.containerName
	s.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	cmd := exec.CommandContext(cctx, "docker", "exec", "-i", name, "sh", "-c", "cat > "+path)
	cmd.Stdin = bytes.NewReader(data)
	if err := cmd.Run(); err != nil {
		return &Error{Code: RuntimeError, Msg: fmt.Sprintf("sandbox: write_file failed: %v", err)}
	}
	return nil
}

// CopyIn copies a host file into the running container.
func (s *Session) CopyIn(ctx context.Context, hostPath, guestPath string) error {
	s.mu.Lock()
	name := s.containerName
	s.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := exec.CommandContext(cctx, "docker", "cp", hostPath, name+":"+guestPath).Run(); err != nil {
		return &Error{Code: RuntimeError, Msg: fmt.Sprintf("sandbox: copy_in failed: %v", err)}
	}
	return nil
}

// Destroy removes the container. Idempotent: calling it more than once,
// or on a session whose container is already gone, is not an error.
func (s *Session) Destroy(ctx context.Context) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	name := s.containerName
	s.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	_ = exec.CommandContext(cctx, "docker", "rm", "-f", name).Run()
	return nil
}
