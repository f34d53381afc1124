package remediation

import (
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SubmitPayload is the raw wire shape of a remediation request, as posted by
// the alert producer. Unvalidated; only ValidateRequest turns it into a
// Request.
type SubmitPayload struct {
	Host          string `json:"host"`
	IP            string `json:"ip"`
	OSFamily      string `json:"os_family"`
	OSName        string `json:"os_name,omitempty"`
	MinutesSilent string `json:"minutes_silent,omitempty"`
	LastSeen      string `json:"last_seen,omitempty"`
	AlertTime     string `json:"alert_time,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`

	// Optional per-request overrides of the retry policy.
	MaxAttempts    int `json:"max_attempts,omitempty"`
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// Request is a validated, immutable remediation intent. Produced only by
// ValidateRequest; downstream components never see unvalidated input.
type Request struct {
	Host          string
	IP            string
	OSFamily      OSFamily
	CorrelationID string

	// Zero means "use the configured default".
	MaxAttempts int
	Timeout     time.Duration
}

// RequestLimits bounds the numeric overrides a caller may supply.
type RequestLimits struct {
	MaxAttemptsCeiling int           // highest permitted max_attempts override
	TimeoutFloor       time.Duration // lowest permitted timeout override
	TimeoutCeiling     time.Duration // highest permitted timeout override
}

// DefaultRequestLimits matches the operator-facing flag bounds.
var DefaultRequestLimits = RequestLimits{
	MaxAttemptsCeiling: 10,
	TimeoutFloor:       time.Second,
	TimeoutCeiling:     300 * time.Second,
}

// RFC 952/1123 label rules: alphanumeric segments separated by dots, hyphens
// allowed inside a segment.
var hostnamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)*$`)

// ValidateRequest normalizes and checks a raw payload, returning a Request or
// a *ValidationError naming the offending field. Pure function of its input.
func ValidateRequest(p *SubmitPayload, limits RequestLimits) (*Request, error) {
	host := strings.ToLower(strings.TrimSpace(p.Host))
	if host == "" {
		return nil, &ValidationError{Field: "host", Reason: "must not be empty"}
	}
	if len(host) > 253 {
		return nil, &ValidationError{Field: "host", Reason: "exceeds 253 characters"}
	}
	if !hostnamePattern.MatchString(host) && net.ParseIP(host) == nil {
		return nil, &ValidationError{Field: "host", Reason: "not a valid hostname or IP"}
	}

	ip := strings.TrimSpace(p.IP)
	if ip == "" {
		return nil, &ValidationError{Field: "ip", Reason: "must not be empty"}
	}
	if net.ParseIP(ip) == nil {
		return nil, &ValidationError{Field: "ip", Reason: "not a valid IP address"}
	}

	family, err := parseOSFamily(p.OSFamily)
	if err != nil {
		return nil, err
	}

	if p.MaxAttempts != 0 {
		if p.MaxAttempts < 1 || p.MaxAttempts > limits.MaxAttemptsCeiling {
			return nil, &ValidationError{Field: "max_attempts", Reason: "out of range"}
		}
	}

	var timeout time.Duration
	if p.TimeoutSeconds != 0 {
		timeout = time.Duration(p.TimeoutSeconds) * time.Second
		if timeout < limits.TimeoutFloor || timeout > limits.TimeoutCeiling {
			return nil, &ValidationError{Field: "timeout_seconds", Reason: "out of range"}
		}
	}

	corr := strings.TrimSpace(p.CorrelationID)
	if corr == "" {
		corr = uuid.NewString()
	} else if len(corr) > 128 {
		return nil, &ValidationError{Field: "correlation_id", Reason: "exceeds 128 characters"}
	}

	return &Request{
		Host:          host,
		IP:            ip,
		OSFamily:      family,
		CorrelationID: corr,
		MaxAttempts:   p.MaxAttempts,
		Timeout:       timeout,
	}, nil
}

func parseOSFamily(raw string) (OSFamily, error) {
	switch OSFamily(strings.ToLower(strings.TrimSpace(raw))) {
	case OSLinux:
		return OSLinux, nil
	case OSWindows:
		return OSWindows, nil
	case OSMacOS:
		return OSMacOS, nil
	case OSUnknown, "":
		return OSUnknown, nil
	default:
		return "", &ValidationError{Field: "os_family", Reason: "must be linux, windows, macos or unknown"}
	}
}
