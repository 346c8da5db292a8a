package memory

import "strings"

var importanceTiers = []struct {
	value    float64
	keywords []string
}{
	{0.95, []string{"never", "always", "critical", "security", "chief directive", "prime directive", "identity", "architecture rule", "directive"}},
	{0.75, []string{"decision", "blocker", "deployed", "done", "architecture", "api key", "credential", "token"}},
	{0.55, []string{"todo", "meeting", "strategy", "project context", "roadmap"}},
	{0.35, []string{"daily", "routine", "status update", "standup", "progress update"}},
	{0.15, []string{"temporary", "debug", "superseded", "scratch", "wip"}},
}

// InferImportance guesses an importance in [0,1] from content keywords.
func InferImportance(content string) float64 {
	text := strings.ToLower(content)
	for _, tier := range importanceTiers {
		if containsAny(text, tier.keywords) {
			return tier.value
		}
	}
	return 0.45
}

// InferDecay guesses a decay rate from an entry type, falling back to
// content keywords when the type says nothing.
func InferDecay(entryType, content string) float64 {
	switch strings.ToLower(strings.TrimSpace(entryType)) {
	case "rule", "directive", "identity":
		return 0.1
	case "decision", "architecture":
		return 0.2
	case "project":
		return 0.3
	case "daily", "status":
		return 0.7
	case "note", "observation", "memory":
		return 0.5
	}

	text := strings.ToLower(content)
	switch {
	case containsAny(text, []string{"directive", "rule", "identity"}):
		return 0.1
	case containsAny(text, []string{"decision", "architecture"}):
		return 0.2
	case strings.Contains(text, "project"):
		return 0.3
	case containsAny(text, []string{"daily", "status"}):
		return 0.7
	}
	return DefaultDecayRate
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
