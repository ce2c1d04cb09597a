// Package answer turns retrieved chunk text into a grounded reply without
// calling any model: every non-refusal answer is assembled from literal
// substrings of the retrieved contexts.
package answer

import (
	"fmt"
	"regexp"
	"strings"
)

const snippetLimit = 300

// Rule is one extraction category. Triggers select the rule from the
// question; Extract pulls label:value spans out of the context texts and
// composes the reply, returning "" when nothing usable was found.
type Rule struct {
	Name     string
	Triggers []string
	Extract  func(contexts []string) string
}

var (
	backendRe  = regexp.MustCompile(`(?i)backend:\s*(.*?)(?:\s*(?:frontend:|database:)|$)`)
	frontendRe = regexp.MustCompile(`(?i)frontend:\s*(.*?)(?:\s*(?:backend:|database:)|$)`)
	databaseRe = regexp.MustCompile(`(?i)database:\s*(.*?)(?:\s*(?:backend:|frontend:)|$)`)

	backendPortRe  = regexp.MustCompile(`(?i)backend:\s*.*?\(?port\s*([0-9]+)\)?`)
	frontendPortRe = regexp.MustCompile(`(?i)frontend:\s*.*?\(?port\s*([0-9]+)\)?`)
	databasePortRe = regexp.MustCompile(`(?i)database:\s*.*?\(?port\s*([0-9]+)\)?`)

	chatEndpointRe = regexp.MustCompile(`(?i)post\s*/chat.*?(question.*)`)
)

// rules are evaluated in priority order; the first rule whose trigger
// matches the lowercased question gets to try its extraction. New
// categories are additive.
var rules = []Rule{
	{
		Name:     "architecture",
		Triggers: []string{"architecture", "component", "structure", "stack"},
		Extract: func(contexts []string) string {
			items := composeLabeled(contexts, map[string]*regexp.Regexp{
				"Backend":  backendRe,
				"Frontend": frontendRe,
				"Database": databaseRe,
			})
			if len(items) == 0 {
				return ""
			}
			return "The project architecture consists of:\n" + strings.Join(items, "\n")
		},
	},
	{
		Name:     "port",
		Triggers: []string{"port"},
		Extract: func(contexts []string) string {
			items := composeLabeled(contexts, map[string]*regexp.Regexp{
				"Backend":  backendPortRe,
				"Frontend": frontendPortRe,
				"Database": databasePortRe,
			})
			if len(items) == 0 {
				return ""
			}
			return "Ports in use:\n" + strings.Join(items, "\n")
		},
	},
	{
		Name:     "endpoint",
		Triggers: []string{"/chat", "endpoint"},
		Extract: func(contexts []string) string {
			line := findFirst(chatEndpointRe, contexts)
			if line == "" {
				return ""
			}
			return "The /chat endpoint according to the documents:\n" + truncate(line, snippetLimit)
		},
	},
}

// Extract answers the question using only the retrieved context texts,
// ordered nearest first. It never fails: when no category applies it
// returns a literal excerpt of the nearest chunk.
func Extract(question string, contexts []string) string {
	normalized := make([]string, len(contexts))
	for i, c := range contexts {
		normalized[i] = strings.Join(strings.Fields(c), " ")
	}

	q := strings.ToLower(question)
	for _, rule := range rules {
		if !matchesTrigger(q, rule.Triggers) {
			continue
		}
		if out := rule.Extract(normalized); out != "" {
			return out
		}
		break
	}

	best := ""
	if len(normalized) > 0 {
		best = normalized[0]
	}
	return "Closest matching excerpt from the documents:\n\n" + truncate(best, snippetLimit)
}

func matchesTrigger(question string, triggers []string) bool {
	for _, t := range triggers {
		if strings.Contains(question, t) {
			return true
		}
	}
	return false
}

// composeLabeled keeps a fixed label order so answers are deterministic.
func composeLabeled(contexts []string, patterns map[string]*regexp.Regexp) []string {
	var items []string
	for _, label := range []string{"Backend", "Frontend", "Database"} {
		re, ok := patterns[label]
		if !ok {
			continue
		}
		if value := findFirst(re, contexts); value != "" {
			items = append(items, fmt.Sprintf("- %s: %s", label, value))
		}
	}
	return items
}

func findFirst(re *regexp.Regexp, contexts []string) string {
	for _, text := range contexts {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
