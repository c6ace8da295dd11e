package updates

import (
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/homegrid/admind/pkg/logger"
)

// Message is a conditional notice attached to a repository entry, shown to
// the user when a component update crosses certain versions.
type Message struct {
	Condition *Condition        `json:"condition,omitempty"`
	Title     map[string]string `json:"title,omitempty"`
	Text      map[string]string `json:"text,omitempty"`
	Link      string            `json:"link,omitempty"`
	LinkText  string            `json:"linkText,omitempty"`
	Level     string            `json:"level,omitempty"`
	Buttons   []string          `json:"buttons,omitempty"`
}

// Condition combines version rules with an "and"/"or" operand.
// Rules look like "oldVersion<=1.0.44" or "newVersion>=1.0.45".
type Condition struct {
	Operand string   `json:"operand,omitempty"`
	Rules   []string `json:"rules,omitempty"`
}

// CheckConditions returns the messages whose conditions hold for an update
// from oldVersion to newVersion. A message without rules always applies.
// Malformed rules, unknown variables and unknown operators evaluate to
// false rather than failing the whole pass.
func CheckConditions(messages []Message, oldVersion, newVersion string) []Message {
	var out []Message
	for _, msg := range messages {
		if conditionHolds(msg.Condition, oldVersion, newVersion) {
			out = append(out, msg)
		}
	}
	return out
}

func conditionHolds(cond *Condition, oldVersion, newVersion string) bool {
	if cond == nil || len(cond.Rules) == 0 {
		return true
	}

	anyTrue := false
	allTrue := true
	for _, rule := range cond.Rules {
		ok := evalRule(rule, oldVersion, newVersion)
		anyTrue = anyTrue || ok
		allTrue = allTrue && ok
	}

	if cond.Operand == "or" {
		return anyTrue
	}
	return allTrue
}

func evalRule(rule, oldVersion, newVersion string) bool {
	var version, rest string
	switch {
	case strings.HasPrefix(rule, "oldVersion"):
		version = oldVersion
		rest = rule[len("oldVersion"):]
	case strings.HasPrefix(rule, "newVersion"):
		version = newVersion
		rest = rule[len("newVersion"):]
	default:
		// unknown variable
		return false
	}

	if len(rest) < 2 {
		return false
	}

	var op, ref string
	if rest[1] >= '0' && rest[1] <= '9' {
		op = rest[:1]
		ref = rest[1:]
	} else {
		op = rest[:2]
		ref = rest[2:]
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		logger.Warn("Cannot evaluate condition rule", "rule", rule, "version", version)
		return false
	}
	r, err := semver.NewVersion(ref)
	if err != nil {
		logger.Warn("Cannot evaluate condition rule", "rule", rule, "reference", ref)
		return false
	}

	switch op {
	case "==", "=":
		return v.Equal(r)
	case ">":
		return v.GreaterThan(r)
	case "<":
		return v.LessThan(r)
	case ">=":
		return !v.LessThan(r)
	case "<=":
		return !v.GreaterThan(r)
	case "!=":
		return !v.Equal(r)
	default:
		// unknown operators are permissively false
		logger.Warn("Unknown condition operator", "rule", rule, "op", op)
		return false
	}
}
