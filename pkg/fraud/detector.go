// Package fraud flags organization signups that look like a worker registering a
// second identity to issue credentials to themself.
package fraud

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tendant/simple-idm-email/pkg/identity"
	"github.com/tendant/simple-idm-email/pkg/similarity"
)

const (
	DefaultNameThreshold      = 0.7
	DefaultLocalPartThreshold = 0.8
	DefaultWindow             = 24 * time.Hour
)

// DefaultDenylist holds words that suggest an organization is really one person.
var DefaultDenylist = []string{"personal", "self", "freelance", "individual", "myself", "own"}

// Assessment is the outcome of one check. Reasons is empty when nothing matched.
type Assessment struct {
	Suspicious bool     `json:"suspicious"`
	Reasons    []string `json:"reasons,omitempty"`
}

// Detector runs the heuristics. The zero value is not usable; call NewDetector.
type Detector struct {
	NameThreshold      float64
	LocalPartThreshold float64
	Window             time.Duration
	denylist           *regexp.Regexp
	denyWords          []string
}

// DetectorOption configures a Detector
type DetectorOption func(*Detector)

func WithNameThreshold(t float64) DetectorOption {
	return func(d *Detector) { d.NameThreshold = t }
}

func WithLocalPartThreshold(t float64) DetectorOption {
	return func(d *Detector) { d.LocalPartThreshold = t }
}

func WithWindow(w time.Duration) DetectorOption {
	return func(d *Detector) { d.Window = w }
}

// WithDenylist replaces the personal-indicator words.
func WithDenylist(words ...string) DetectorOption {
	return func(d *Detector) { d.denyWords = words }
}

// NewDetector creates a detector with the default thresholds unless overridden.
func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{
		NameThreshold:      DefaultNameThreshold,
		LocalPartThreshold: DefaultLocalPartThreshold,
		Window:             DefaultWindow,
		denyWords:          DefaultDenylist,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.denylist = compileDenylist(d.denyWords)
	return d
}

func compileDenylist(words []string) *regexp.Regexp {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(w)))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`\b(` + strings.Join(quoted, "|") + `)\b`)
}

// Assess evaluates every heuristic and accumulates the reasons. recent is expected to be
// the bounded window of worker identities; entries older than Window still count for the
// similarity checks but not for the clustering signal.
func (d *Detector) Assess(candidateEmail, orgName string, recent []identity.WorkerIdentity, now time.Time) Assessment {
	var reasons []string
	orgName = strings.TrimSpace(orgName)
	localPart := similarity.LocalPart(candidateEmail)
	cutoff := now.Add(-d.Window)
	clustered := 0

	for _, w := range recent {
		if orgName != "" && w.FullName != "" {
			if score := similarity.BestWindow(orgName, w.FullName); score > d.NameThreshold {
				reasons = append(reasons, fmt.Sprintf("organization name %q is %.2f similar to recent worker name %q", orgName, score, w.FullName))
			}
		}
		if localPart != "" && w.Email != "" {
			workerLocal := similarity.LocalPart(w.Email)
			if score := similarity.Similarity(localPart, workerLocal); score > d.LocalPartThreshold {
				reasons = append(reasons, fmt.Sprintf("email local part %q is %.2f similar to recent worker email %q", localPart, score, w.Email))
			}
		}
		if !w.CreatedAt.Before(cutoff) && !w.CreatedAt.After(now) {
			clustered++
		}
	}

	if clustered > 0 {
		reasons = append(reasons, fmt.Sprintf("%d worker identities created within the last %s", clustered, d.Window))
	}

	if d.denylist != nil {
		if m := d.denylist.FindString(strings.ToLower(orgName)); m != "" {
			reasons = append(reasons, fmt.Sprintf("organization name %q contains personal indicator %q", orgName, m))
		}
	}

	return Assessment{Suspicious: len(reasons) > 0, Reasons: reasons}
}
