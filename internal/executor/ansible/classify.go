package ansible

import (
	"strings"

	"github.com/linnemanlabs/remedy/internal/remediation"
)

// permanentMarkers are output fragments that indicate the target can never
// be restarted by retrying: bad credentials, a host that doesn't resolve, or
// a playbook that can't run at all. Everything else classifies transient so
// the retry policy gets a chance at flaky networks.
var permanentMarkers = []string{
	"no hosts matched",
	"could not match supplied host pattern",
	"could not be found",
	"authentication fail",
	"permission denied",
	"invalid password",
	"name or service not known",
	"could not resolve hostname",
	"unsupported parameters",
	"syntax error",
}

// classify maps playbook output to an error kind for the retry policy.
func classify(output string) remediation.ErrorKind {
	lower := strings.ToLower(output)
	for _, m := range permanentMarkers {
		if strings.Contains(lower, m) {
			return remediation.ErrPermanent
		}
	}
	return remediation.ErrTransient
}
