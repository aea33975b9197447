package brain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/yrevash/qoneqt-agent/internal/model"
)

var (
	fencedBlockRe   = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// repairCandidates generates progressively more aggressive repairs of raw
// model output. Models wrap JSON in markdown fences, prepend chatter, and
// emit trailing commas; the cascade is:
//
//  1. the raw text as-is
//  2. fenced-code-block extraction
//  3. first-{ to last-} brace span
//  4. each of the above with trailing commas stripped
func repairCandidates(raw string) []string {
	candidates := []string{raw}

	if m := fencedBlockRe.FindStringSubmatch(raw); m != nil {
		candidates = append(candidates, m[1])
	}
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start != -1 && end > start {
		candidates = append(candidates, raw[start:end+1])
	}

	n := len(candidates)
	for i := 0; i < n; i++ {
		candidates = append(candidates, trailingCommaRe.ReplaceAllString(candidates[i], "$1"))
	}
	return candidates
}

// extractDecision parses a decision out of raw model output. Fails closed:
// if no repair candidate yields a valid decision, the result is
// ErrNoDecision, never a panic.
func extractDecision(raw string) (model.Decision, error) {
	var lastErr error
	for _, c := range repairCandidates(raw) {
		var d model.Decision
		if err := json.Unmarshal([]byte(c), &d); err != nil {
			lastErr = err
			continue
		}
		if err := d.Validate(); err != nil {
			lastErr = err
			continue
		}
		return d, nil
	}
	return model.Decision{}, fmt.Errorf("%w: %v", ErrNoDecision, lastErr)
}

// extractVerdict parses an audit verdict with the same repair cascade.
func extractVerdict(raw string) (AuditVerdict, error) {
	var lastErr error
	for _, c := range repairCandidates(raw) {
		var v AuditVerdict
		if err := json.Unmarshal([]byte(c), &v); err != nil {
			lastErr = err
			continue
		}
		if v.Status != AuditPassed && v.Status != AuditFlagged {
			lastErr = fmt.Errorf("unknown audit status %q", v.Status)
			continue
		}
		return v, nil
	}
	return AuditVerdict{}, fmt.Errorf("%w: %v", ErrNoDecision, lastErr)
}
