package ansible

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/remedy/internal/remediation"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		output string
		want   remediation.ErrorKind
	}{
		{"connection timeout", "fatal: [h1]: UNREACHABLE! => Connection timed out during banner exchange", remediation.ErrTransient},
		{"connection refused", "ssh: connect to host 10.0.0.5 port 22: Connection refused", remediation.ErrTransient},
		{"generic task failure", "fatal: [h1]: FAILED! => service restart returned non-zero", remediation.ErrTransient},
		{"empty output", "", remediation.ErrTransient},
		{"no hosts matched", "ERROR! No hosts matched the subscripted pattern", remediation.ErrPermanent},
		{"auth failure", "fatal: [h1]: UNREACHABLE! => Authentication failed.", remediation.ErrPermanent},
		{"permission denied", "ansible@10.0.0.5: Permission denied (publickey,password).", remediation.ErrPermanent},
		{"dns failure", "ssh: Could not resolve hostname h1: Name or service not known", remediation.ErrPermanent},
		{"missing playbook", "ERROR! the playbook: /etc/remedy/restart_agent_linux.yml could not be found", remediation.ErrPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := classify(tt.output); got != tt.want {
				t.Errorf("classify(%q) = %s, want %s", tt.output, got, tt.want)
			}
		})
	}
}

func TestFailureDetail(t *testing.T) {
	t.Parallel()

	got := failureDetail("stdout text", "stderr text", 4)
	if !strings.Contains(got, "exited 4") || !strings.Contains(got, "stderr text") {
		t.Errorf("failureDetail = %q, want exit code and stderr", got)
	}

	got = failureDetail("only stdout", "", 2)
	if !strings.Contains(got, "only stdout") {
		t.Errorf("failureDetail = %q, want stdout fallback", got)
	}

	got = failureDetail("", "", 1)
	if !strings.Contains(got, "no output") {
		t.Errorf("failureDetail = %q, want placeholder for empty output", got)
	}

	long := strings.Repeat("x", 5000) + "TAIL"
	got = failureDetail("", long, 2)
	if len(got) > 2200 {
		t.Errorf("failureDetail length = %d, want bounded", len(got))
	}
	if !strings.Contains(got, "TAIL") {
		t.Error("failureDetail dropped the tail of the output")
	}
}

func TestPlaybookPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"restart_agent_linux.yml", "restart_agent_generic.yml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("---\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	r := New(Config{PlaybooksDir: dir}, nil)

	if got := r.playbookPath(remediation.OSLinux); filepath.Base(got) != "restart_agent_linux.yml" {
		t.Errorf("linux playbook = %s", got)
	}
	// No windows playbook installed: generic fallback.
	if got := r.playbookPath(remediation.OSWindows); filepath.Base(got) != "restart_agent_generic.yml" {
		t.Errorf("windows fallback = %s", got)
	}
	if got := r.playbookPath(remediation.OSUnknown); filepath.Base(got) != "restart_agent_generic.yml" {
		t.Errorf("unknown fallback = %s", got)
	}
}

func TestWriteInventory_Linux(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := New(Config{InventoryDir: dir, SSHUser: "ansible", Become: true}, nil)

	path, err := r.writeInventory(remediation.Target{
		Host: "uf-01.example.com", IP: "10.0.0.5", OSFamily: remediation.OSLinux,
	})
	if err != nil {
		t.Fatalf("writeInventory: %v", err)
	}
	t.Cleanup(func() { _ = os.Remove(path) })

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read inventory: %v", err)
	}

	var inv map[string]any
	if err := yaml.Unmarshal(data, &inv); err != nil {
		t.Fatalf("unmarshal inventory: %v", err)
	}

	hosts := inv["all"].(map[string]any)["hosts"].(map[string]any)
	vars, ok := hosts["uf-01.example.com"].(map[string]any)
	if !ok {
		t.Fatalf("host entry missing: %v", hosts)
	}
	if vars["ansible_host"] != "10.0.0.5" {
		t.Errorf("ansible_host = %v", vars["ansible_host"])
	}
	if vars["ansible_connection"] != "ssh" {
		t.Errorf("ansible_connection = %v, want ssh", vars["ansible_connection"])
	}
	if vars["ansible_user"] != "ansible" {
		t.Errorf("ansible_user = %v", vars["ansible_user"])
	}
	if vars["ansible_become"] != true {
		t.Errorf("ansible_become = %v, want true", vars["ansible_become"])
	}
}

func TestWriteInventory_Windows(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := New(Config{InventoryDir: dir, WinRMUser: "administrator"}, nil)

	path, err := r.writeInventory(remediation.Target{
		Host: "win-01", IP: "10.0.0.9", OSFamily: remediation.OSWindows,
	})
	if err != nil {
		t.Fatalf("writeInventory: %v", err)
	}
	t.Cleanup(func() { _ = os.Remove(path) })

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read inventory: %v", err)
	}

	var inv map[string]any
	if err := yaml.Unmarshal(data, &inv); err != nil {
		t.Fatalf("unmarshal inventory: %v", err)
	}

	vars := inv["all"].(map[string]any)["hosts"].(map[string]any)["win-01"].(map[string]any)
	if vars["ansible_connection"] != "winrm" {
		t.Errorf("ansible_connection = %v, want winrm", vars["ansible_connection"])
	}
	if vars["ansible_port"] != 5985 {
		t.Errorf("ansible_port = %v, want 5985", vars["ansible_port"])
	}
	if vars["ansible_user"] != "administrator" {
		t.Errorf("ansible_user = %v", vars["ansible_user"])
	}
}
