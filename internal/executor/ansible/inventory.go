package ansible

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/remedy/internal/remediation"
)

// writeInventory renders a single-host Ansible inventory and writes it to a
// uniquely named file under the configured inventory directory. The caller
// removes the file once the run finishes.
func (r *Runner) writeInventory(tgt remediation.Target) (string, error) {
	hostVars := map[string]any{
		"ansible_host": tgt.IP,
		"os_family":    string(tgt.OSFamily),
	}

	if tgt.OSFamily == remediation.OSWindows {
		hostVars["ansible_connection"] = "winrm"
		hostVars["ansible_port"] = 5985
		hostVars["ansible_winrm_transport"] = "ntlm"
		hostVars["ansible_winrm_server_cert_validation"] = "ignore"
		if r.cfg.WinRMUser != "" {
			hostVars["ansible_user"] = r.cfg.WinRMUser
		}
	} else {
		hostVars["ansible_connection"] = "ssh"
		if r.cfg.SSHUser != "" {
			hostVars["ansible_user"] = r.cfg.SSHUser
		}
		if r.cfg.Become {
			hostVars["ansible_become"] = true
		}
	}

	inventory := map[string]any{
		"all": map[string]any{
			"hosts": map[string]any{
				tgt.Host: hostVars,
			},
		},
	}

	data, err := yaml.Marshal(inventory)
	if err != nil {
		return "", fmt.Errorf("marshal inventory: %w", err)
	}

	if err := os.MkdirAll(r.cfg.InventoryDir, 0o750); err != nil {
		return "", fmt.Errorf("create inventory dir: %w", err)
	}

	name := fmt.Sprintf("inventory_%s_%d.yml", tgt.Host, time.Now().UnixNano())
	path := filepath.Join(r.cfg.InventoryDir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write inventory: %w", err)
	}
	return path, nil
}
