package natsbus

import (
	"fmt"
	"strings"
)

// Subject kinds under a principal
const (
	KindRequest   = "request"
	KindInternal  = "internal"
	KindApprovals = "approvals"
)

// Subjects names the subjects of one principal: <prefix>.<principal>.<kind>
type Subjects struct {
	Prefix    string
	Principal string
}

func (s Subjects) subject(kind string) string {
	return fmt.Sprintf("%s.%s.%s", s.Prefix, s.Principal, kind)
}

// Request is the subject external callers send frames to
func (s Subjects) Request() string { return s.subject(KindRequest) }

// Internal is the subject trusted tools send internal requests to
func (s Subjects) Internal() string { return s.subject(KindInternal) }

// Approvals is where new approval requests are announced
func (s Subjects) Approvals() string { return s.subject(KindApprovals) }

// ParseSubject splits a vault subject into its parts. The prefix may itself
// contain dots.
func ParseSubject(subject string) (Subjects, string, error) {
	parts := strings.Split(subject, ".")
	if len(parts) < 3 {
		return Subjects{}, "", fmt.Errorf("invalid subject %q", subject)
	}

	kind := parts[len(parts)-1]
	switch kind {
	case KindRequest, KindInternal, KindApprovals:
	default:
		return Subjects{}, "", fmt.Errorf("invalid subject kind %q", kind)
	}

	principal := parts[len(parts)-2]
	prefix := strings.Join(parts[:len(parts)-2], ".")
	if principal == "" || prefix == "" {
		return Subjects{}, "", fmt.Errorf("invalid subject %q", subject)
	}
	return Subjects{Prefix: prefix, Principal: principal}, kind, nil
}
