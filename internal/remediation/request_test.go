package remediation

import (
	"errors"
	"testing"
	"time"
)

func validPayload() *SubmitPayload {
	return &SubmitPayload{
		Host:     "uf-prod-01.example.com",
		IP:       "10.0.0.5",
		OSFamily: "linux",
	}
}

func TestValidateRequest_Valid(t *testing.T) {
	t.Parallel()

	req, err := ValidateRequest(validPayload(), DefaultRequestLimits)
	if err != nil {
		t.Fatalf("ValidateRequest: %v", err)
	}
	if req.Host != "uf-prod-01.example.com" {
		t.Errorf("Host = %q", req.Host)
	}
	if req.OSFamily != OSLinux {
		t.Errorf("OSFamily = %q, want linux", req.OSFamily)
	}
	if req.CorrelationID == "" {
		t.Error("correlation id not generated")
	}
}

func TestValidateRequest_NormalizesHost(t *testing.T) {
	t.Parallel()

	p := validPayload()
	p.Host = "  UF-Prod-01.Example.COM  "
	req, err := ValidateRequest(p, DefaultRequestLimits)
	if err != nil {
		t.Fatalf("ValidateRequest: %v", err)
	}
	if req.Host != "uf-prod-01.example.com" {
		t.Errorf("Host = %q, want lowercased trimmed", req.Host)
	}
}

func TestValidateRequest_FieldErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*SubmitPayload)
		wantField string
	}{
		{"empty host", func(p *SubmitPayload) { p.Host = "" }, "host"},
		{"host with spaces inside", func(p *SubmitPayload) { p.Host = "bad host" }, "host"},
		{"host with invalid chars", func(p *SubmitPayload) { p.Host = "host_$name" }, "host"},
		{"host too long", func(p *SubmitPayload) {
			long := make([]byte, 260)
			for i := range long {
				long[i] = 'a'
			}
			p.Host = string(long)
		}, "host"},
		{"empty ip", func(p *SubmitPayload) { p.IP = "" }, "ip"},
		{"malformed ip", func(p *SubmitPayload) { p.IP = "10.0.0.999" }, "ip"},
		{"unrecognized os", func(p *SubmitPayload) { p.OSFamily = "solaris" }, "os_family"},
		{"max attempts too high", func(p *SubmitPayload) { p.MaxAttempts = 11 }, "max_attempts"},
		{"max attempts negative", func(p *SubmitPayload) { p.MaxAttempts = -1 }, "max_attempts"},
		{"timeout too low", func(p *SubmitPayload) { p.TimeoutSeconds = -5 }, "timeout_seconds"},
		{"timeout too high", func(p *SubmitPayload) { p.TimeoutSeconds = 301 }, "timeout_seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := validPayload()
			tt.mutate(p)
			_, err := ValidateRequest(p, DefaultRequestLimits)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", verr.Field, tt.wantField)
			}
		})
	}
}

func TestValidateRequest_OSFamilyDefaults(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "unknown", "UNKNOWN"} {
		p := validPayload()
		p.OSFamily = raw
		req, err := ValidateRequest(p, DefaultRequestLimits)
		if err != nil {
			t.Fatalf("ValidateRequest(%q): %v", raw, err)
		}
		if req.OSFamily != OSUnknown {
			t.Errorf("OSFamily(%q) = %q, want unknown", raw, req.OSFamily)
		}
	}
}

func TestValidateRequest_IPv6(t *testing.T) {
	t.Parallel()

	p := validPayload()
	p.IP = "2001:db8::1"
	if _, err := ValidateRequest(p, DefaultRequestLimits); err != nil {
		t.Fatalf("ValidateRequest with IPv6: %v", err)
	}
}

func TestValidateRequest_HostAsIP(t *testing.T) {
	t.Parallel()

	p := validPayload()
	p.Host = "192.168.1.10"
	if _, err := ValidateRequest(p, DefaultRequestLimits); err != nil {
		t.Fatalf("ValidateRequest with IP host: %v", err)
	}
}

func TestValidateRequest_Overrides(t *testing.T) {
	t.Parallel()

	p := validPayload()
	p.MaxAttempts = 7
	p.TimeoutSeconds = 120
	p.CorrelationID = "splunk-alert-8842"

	req, err := ValidateRequest(p, DefaultRequestLimits)
	if err != nil {
		t.Fatalf("ValidateRequest: %v", err)
	}
	if req.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d, want 7", req.MaxAttempts)
	}
	if req.Timeout != 120*time.Second {
		t.Errorf("Timeout = %v, want 2m", req.Timeout)
	}
	if req.CorrelationID != "splunk-alert-8842" {
		t.Errorf("CorrelationID = %q, want caller-supplied value kept", req.CorrelationID)
	}
}

func TestValidateRequest_Pure(t *testing.T) {
	t.Parallel()

	p := validPayload()
	p.CorrelationID = "fixed"
	a, err := ValidateRequest(p, DefaultRequestLimits)
	if err != nil {
		t.Fatalf("ValidateRequest: %v", err)
	}
	b, err := ValidateRequest(p, DefaultRequestLimits)
	if err != nil {
		t.Fatalf("ValidateRequest: %v", err)
	}
	if *a != *b {
		t.Errorf("same payload produced different requests: %+v vs %+v", a, b)
	}
}
