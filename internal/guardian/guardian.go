// Package guardian implements the Guardian (spec component C9): a
// stateless reviewer of terminal responses against a fixed principle set.
// Deterministic pattern checks are grounded on the teacher's
// internal/agent.ToolResultGuard secret-redaction patterns, adapted here to
// personal-data markers and a forbidden-assertions policy table instead of
// API keys/tokens.
package guardian

import (
	"context"
	"regexp"
	"time"

	"github.com/hivemindctl/hivemind/pkg/models"
)

// NuanceChecker is the optional LLM-based ambiguity check spec section 4.9
// names: consulted only when deterministic checks pass but heuristics flag
// ambiguity (a message that mentions data sharing or authority claims
// without matching a hard pattern).
type NuanceChecker interface {
	CheckNuance(ctx context.Context, text string) (concern bool, principle, description string, err error)
}

// Verdict is Guardian.Review's result.
type Verdict struct {
	// Compliant is true when the response passed review (possibly after
	// automatic redaction).
	Compliant bool

	// Violation is populated whenever a principle was breached, regardless
	// of whether it was auto-remediated.
	Violation *models.Violation

	// RemediatedText holds the redacted text when Violation.Severity is
	// auto-remediable; empty otherwise.
	RemediatedText string
}

type forbiddenAssertion struct {
	pattern     *regexp.Regexp
	principle   string
	description string
}

// personalDataPatterns flags markers that must not leave the local hub
// unredacted (spec section 4.9a). Grounded on the teacher's
// builtinSecretPatterns regex style, retargeted at personal data instead
// of credentials.
var personalDataPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[\w.+-]+@[\w-]+\.[\w.-]+\b`),                       // email
	regexp.MustCompile(`\b(?:\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`), // phone
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),                              // US SSN-shaped government id
}

// forbiddenAssertions is the policy table of claims a compliant agent must
// never make (spec section 4.9b).
var forbiddenAssertions = []forbiddenAssertion{
	{
		pattern:     regexp.MustCompile(`(?i)\ball (?:data|messages|requests) must (?:flow|route) through (?:me|us|this (?:hub|node))\b`),
		principle:   "Decentralization",
		description: "response asserts central routing control over all data/messages",
	},
	{
		pattern:     regexp.MustCompile(`(?i)\bi am the (?:sole|only|central) (?:authority|controller|administrator)\b`),
		principle:   "Decentralization",
		description: "response claims sole/central authority",
	},
}

// ambiguityHeuristic flags text worth an LLM nuance pass even though no
// hard pattern matched (spec section 4.9c: "when deterministic checks pass
// but heuristics flag ambiguity").
var ambiguityHeuristic = regexp.MustCompile(`(?i)\b(share|send|forward)\b.{0,40}\b(data|information|details)\b`)

// Guardian reviews terminal assistant text. The zero value is usable with
// no nuance checker (nuance pass is skipped).
type Guardian struct {
	nuance NuanceChecker
}

// New creates a Guardian, optionally wired to a NuanceChecker for the
// LLM-based ambiguity pass.
func New(nuance NuanceChecker) *Guardian {
	return &Guardian{nuance: nuance}
}

// Review evaluates text produced by agentID/role. It never returns an
// error for a policy violation — only for NuanceChecker failures, which the
// caller should treat as a transient error (spec section 7).
func (g *Guardian) Review(ctx context.Context, agentID string, role models.Role, text string) (Verdict, error) {
	if v, ok := g.checkForbiddenAssertions(agentID, text); ok {
		return v, nil
	}

	if redacted, hit := redactPersonalData(text); hit {
		return Verdict{
			Compliant: true,
			Violation: &models.Violation{
				Kind:                 models.ViolationPrivacy,
				Severity:             models.SeverityMedium,
				Principle:            "Privacy",
				Description:          "response contained personal-data markers, auto-redacted before leaving the hub",
				Timestamp:            time.Now(),
				AgentID:              agentID,
				SuggestedRemediation: "redact personal data before sending to external parties",
			},
			RemediatedText: redacted,
		}, nil
	}

	if g.nuance != nil && ambiguityHeuristic.MatchString(text) {
		concern, principle, description, err := g.nuance.CheckNuance(ctx, text)
		if err != nil {
			return Verdict{}, err
		}
		if concern {
			return Verdict{
				Violation: &models.Violation{
					Kind:                 models.ViolationPrivacy,
					Severity:             models.SeverityHigh,
					Principle:            principle,
					Description:          description,
					Timestamp:            time.Now(),
					AgentID:              agentID,
					SuggestedRemediation: "pause for user review before sending",
				},
			}, nil
		}
	}

	return Verdict{Compliant: true}, nil
}

func (g *Guardian) checkForbiddenAssertions(agentID, text string) (Verdict, bool) {
	for _, fa := range forbiddenAssertions {
		if fa.pattern.MatchString(text) {
			return Verdict{
				Violation: &models.Violation{
					Kind:                 models.ViolationCentralization,
					Severity:             models.SeverityHigh,
					Principle:            fa.principle,
					Description:          fa.description,
					Timestamp:            time.Now(),
					AgentID:              agentID,
					SuggestedRemediation: "rephrase to disclaim central authority/control",
				},
			}, true
		}
	}
	return Verdict{}, false
}

func redactPersonalData(text string) (string, bool) {
	hit := false
	for _, re := range personalDataPatterns {
		if re.MatchString(text) {
			hit = true
			text = re.ReplaceAllString(text, "[REDACTED]")
		}
	}
	return text, hit
}
