// Package dockerrunner is an alternate Process Runner backend (spec.md §2:
// "Docker Runner ... executes the run/compile step inside a throwaway
// container instead of a re-exec'd rlimited child"). It implements the same
// procrunner.Request/Result contract so the orchestrator can use either
// backend interchangeably.
//
// Grounded on the teacher's sibling-repo DockerExecutor
// (spencerandtheteagues-apex-build-platform/backend/internal/sandbox/v2/executor.go):
// container create with a bind mount of the working directory, a hard
// wall-time via context, resource limits via container.Resources, and
// stdout/stderr demuxed with stdcopy.
package dockerrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cretz/teleworker/internal/limits"
	"github.com/cretz/teleworker/internal/procrunner"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

// Runner runs a procrunner.Request inside a throwaway, network-disabled
// container built from Image.
type Runner struct {
	cli   *client.Client
	image string
}

// New returns a Runner that launches containers from image using the
// Docker SDK's from-environment client (DOCKER_HOST, DOCKER_CERT_PATH,
// etc.).
func New(image string) (*Runner, error) {
	if image == "" {
		return nil, errors.New("dockerrunner: image is required")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("dockerrunner: docker client init: %w", err)
	}
	return &Runner{cli: cli, image: image}, nil
}

// Close releases the underlying Docker SDK client.
func (r *Runner) Close() error {
	return r.cli.Close()
}

// Run executes req.Argv inside a fresh container with req.Dir bind-mounted
// as the working directory, enforcing req.Limits as container resource caps
// and a hard wall-time deadline.
func (r *Runner) Run(ctx context.Context, req procrunner.Request) (procrunner.Result, error) {
	if len(req.Argv) == 0 {
		return procrunner.Result{}, fmt.Errorf("dockerrunner: empty argv")
	}
	wallTime := req.Limits.WallTime
	if wallTime <= 0 {
		wallTime = limits.DefaultWallTime
	}
	runCtx, cancel := context.WithTimeout(ctx, wallTime)
	defer cancel()

	const containerWorkDir = "/work"
	hostCfg := &container.HostConfig{
		AutoRemove:  false,
		NetworkMode: "none",
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges:true"},
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: req.Dir, Target: containerWorkDir},
		},
		Resources: container.Resources{
			Memory:     int64(req.Limits.Memory),
			MemorySwap: int64(req.Limits.Memory),
			PidsLimit:  int64Ptr(int64(req.Limits.Processes)),
		},
	}

	hasStdin := req.StdinFile != ""
	created, err := r.cli.ContainerCreate(runCtx, &container.Config{
		Image:        r.image,
		WorkingDir:   containerWorkDir,
		Cmd:          req.Argv,
		AttachStdin:  hasStdin,
		AttachStdout: true,
		AttachStderr: true,
		OpenStdin:    hasStdin,
		StdinOnce:    hasStdin,
	}, hostCfg, &network.NetworkingConfig{}, nil, "teleworker-run-"+uuid.New().String())
	if err != nil {
		return procrunner.Result{}, &procrunner.SpawnError{Err: fmt.Errorf("container create: %w", err)}
	}
	containerID := created.ID
	defer func() {
		_ = r.cli.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
	}()

	// Attach and hand over stdin before starting, the same way procrunner.Runner
	// feeds req.StdinFile's contents to the re-exec'd child's stdin.
	if hasStdin {
		if err := r.writeStdin(runCtx, containerID, req.StdinFile); err != nil {
			return procrunner.Result{}, &procrunner.SpawnError{Err: err}
		}
	}

	start := time.Now()
	if err := r.cli.ContainerStart(runCtx, containerID, container.StartOptions{}); err != nil {
		return procrunner.Result{}, &procrunner.SpawnError{Err: fmt.Errorf("container start: %w", err)}
	}

	waitCh, errCh := r.cli.ContainerWait(runCtx, containerID, container.WaitConditionNotRunning)
	var res procrunner.Result
	select {
	case <-runCtx.Done():
		_ = r.cli.ContainerKill(context.Background(), containerID, "SIGKILL")
		res.TimedOut = true
		res.ExitCode = -1
		res.Signal = "killed"
	case waitResp := <-waitCh:
		res.ExitCode = int(waitResp.StatusCode)
	case err := <-errCh:
		return procrunner.Result{}, fmt.Errorf("dockerrunner: container wait: %w", err)
	}
	res.ExecutionTime = time.Since(start)

	stdout, stderr, err := r.readLogs(context.Background(), containerID)
	if err != nil {
		return procrunner.Result{}, fmt.Errorf("dockerrunner: reading logs: %w", err)
	}
	if req.RedirectStderrToStdout {
		res.Stdout = append(stdout, stderr...)
	} else {
		res.Stdout = stdout
		res.Stderr = stderr
	}
	return res, nil
}

// writeStdin attaches to the not-yet-started container and writes
// stdinFile's contents to its stdin stream, then closes the write side so
// the child sees EOF instead of blocking forever on a read.
func (r *Runner) writeStdin(ctx context.Context, containerID, stdinFile string) error {
	f, err := os.Open(stdinFile)
	if err != nil {
		return fmt.Errorf("opening stdin file: %w", err)
	}
	defer f.Close()

	attached, err := r.cli.ContainerAttach(ctx, containerID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
	})
	if err != nil {
		return fmt.Errorf("attaching stdin: %w", err)
	}
	defer attached.Close()

	if _, err := io.Copy(attached.Conn, f); err != nil {
		return fmt.Errorf("writing stdin: %w", err)
	}
	if closer, ok := attached.Conn.(interface{ CloseWrite() error }); ok {
		if err := closer.CloseWrite(); err != nil {
			return fmt.Errorf("closing stdin: %w", err)
		}
	}
	return nil
}

func (r *Runner) readLogs(ctx context.Context, containerID string) (stdout, stderr []byte, err error) {
	rc, err := r.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()

	var outBuf, errBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, rc); err != nil && err != io.EOF {
		return outBuf.Bytes(), errBuf.Bytes(), err
	}
	return outBuf.Bytes(), errBuf.Bytes(), nil
}

func int64Ptr(v int64) *int64 {
	if v <= 0 {
		return nil
	}
	return &v
}
