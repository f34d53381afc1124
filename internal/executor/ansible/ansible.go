// Package ansible implements remediation.Executor by invoking
// ansible-playbook against the target host. Each run builds a throwaway
// inventory for the single host, selects a playbook by OS family, and
// classifies the playbook result for the orchestrator's retry policy.
package ansible

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/remedy/internal/remediation"
)

// Config locates playbooks and supplies connection parameters for the
// generated inventory.
type Config struct {
	PlaybooksDir string
	InventoryDir string
	SSHUser      string
	WinRMUser    string
	Become       bool
}

// Runner executes restart playbooks. Stateless per call; safe for concurrent
// use up to whatever concurrency the orchestrator configures.
type Runner struct {
	cfg    Config
	logger log.Logger
}

// New creates a new Runner.
func New(cfg Config, logger log.Logger) *Runner {
	if logger == nil {
		logger = log.Nop()
	}
	return &Runner{cfg: cfg, logger: logger}
}

// Run executes the restart playbook for the target. The returned error is
// reserved for invocation problems (context cancelled, inventory write
// failed); playbook failures are reported through the Outcome so the
// orchestrator can classify them.
func (r *Runner) Run(ctx context.Context, tgt remediation.Target) (remediation.Outcome, error) {
	playbook := r.playbookPath(tgt.OSFamily)

	invPath, err := r.writeInventory(tgt)
	if err != nil {
		return remediation.Outcome{}, fmt.Errorf("write inventory: %w", err)
	}
	defer func() {
		if err := os.Remove(invPath); err != nil {
			r.logger.Warn(ctx, "failed to remove inventory", "path", invPath, "error", err)
		}
	}()

	extraVars, err := json.Marshal(map[string]string{
		"target_host":    tgt.Host,
		"target_ip":      tgt.IP,
		"os_family":      string(tgt.OSFamily),
		"correlation_id": tgt.CorrelationID,
		"task_start":     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return remediation.Outcome{}, fmt.Errorf("marshal extra vars: %w", err)
	}

	args := []string{
		"-i", invPath,
		playbook,
		"--limit", tgt.Host,
		"-e", string(extraVars),
	}
	if tgt.OSFamily != remediation.OSWindows {
		args = append(args,
			"--ssh-common-args", "-o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null",
		)
	}

	cmd := exec.CommandContext(ctx, "ansible-playbook", args...)
	cmd.Env = append(os.Environ(), "ANSIBLE_HOST_KEY_CHECKING=False")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Info(ctx, "running playbook",
		"playbook", playbook,
		"host", tgt.Host,
		"correlation_id", tgt.CorrelationID,
	)

	start := time.Now()
	runErr := cmd.Run()
	dur := time.Since(start)

	if ctx.Err() != nil {
		// Local invocation aborted; the remote action may still be in
		// flight. Surface as an invocation error for the orchestrator.
		return remediation.Outcome{}, ctx.Err()
	}

	if runErr == nil {
		r.logger.Info(ctx, "playbook succeeded", "host", tgt.Host, "duration", dur.Seconds())
		return remediation.Outcome{
			Success: true,
			Detail:  fmt.Sprintf("restart playbook completed in %s", dur.Round(time.Second)),
		}, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		return remediation.Outcome{}, fmt.Errorf("ansible-playbook: %w", runErr)
	}

	detail := failureDetail(stdout.String(), stderr.String(), exitErr.ExitCode())
	kind := classify(stdout.String() + "\n" + stderr.String())

	r.logger.Warn(ctx, "playbook failed",
		"host", tgt.Host,
		"exit_code", exitErr.ExitCode(),
		"error_kind", kind,
		"duration", dur.Seconds(),
	)

	return remediation.Outcome{Success: false, Detail: detail, Kind: kind}, nil
}

// playbookPath maps an OS family to its restart playbook, falling back to
// the generic playbook when no family-specific one is installed.
func (r *Runner) playbookPath(family remediation.OSFamily) string {
	names := map[remediation.OSFamily]string{
		remediation.OSLinux:   "restart_agent_linux.yml",
		remediation.OSWindows: "restart_agent_windows.yml",
		remediation.OSMacOS:   "restart_agent_macos.yml",
	}
	if name, ok := names[family]; ok {
		p := filepath.Join(r.cfg.PlaybooksDir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(r.cfg.PlaybooksDir, "restart_agent_generic.yml")
}

// failureDetail condenses playbook output to a bounded detail string, taking
// stderr first and the tail of stdout otherwise.
func failureDetail(stdout, stderr string, exitCode int) string {
	const maxDetail = 2048
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = strings.TrimSpace(stdout)
	}
	if len(msg) > maxDetail {
		msg = "..." + msg[len(msg)-maxDetail:]
	}
	if msg == "" {
		msg = "no output"
	}
	return fmt.Sprintf("ansible-playbook exited %d: %s", exitCode, msg)
}
