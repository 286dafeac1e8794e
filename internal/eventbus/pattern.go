package eventbus

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTopic indicates a malformed topic or subscription pattern.
var ErrInvalidTopic = errors.New("invalid topic")

// PatternKind distinguishes exact and wildcard subscriptions.
type PatternKind int

const (
	// Exact matches a single topic.
	Exact PatternKind = iota
	// Prefix matches every topic with at least one segment after the prefix.
	Prefix
	// All matches every topic.
	All
)

// Pattern is a parsed subscription pattern.
type Pattern struct {
	Kind PatternKind
	// Value is the literal topic for Exact and the prefix (without ".*") for Prefix.
	Value string
}

// ValidateTopic checks that topic is a non-empty literal of dot-separated,
// non-empty segments.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if strings.Contains(topic, "*") {
		return fmt.Errorf("%w: %q contains a wildcard", ErrInvalidTopic, topic)
	}
	for _, seg := range strings.Split(topic, ".") {
		if seg == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidTopic, topic)
		}
	}
	return nil
}

// ParsePattern parses "*", "prefix.*" or an exact topic.
func ParsePattern(s string) (Pattern, error) {
	if s == "*" {
		return Pattern{Kind: All}, nil
	}
	if prefix, ok := strings.CutSuffix(s, ".*"); ok {
		if err := ValidateTopic(prefix); err != nil {
			return Pattern{}, fmt.Errorf("pattern %q: %w", s, err)
		}
		return Pattern{Kind: Prefix, Value: prefix}, nil
	}
	if err := ValidateTopic(s); err != nil {
		return Pattern{}, err
	}
	return Pattern{Kind: Exact, Value: s}, nil
}

// Match reports whether topic matches the pattern. Matching is segment-wise:
// "task.*" matches "task.updated" and "task.a.b" but neither "task" nor
// "tasks.updated".
func (p Pattern) Match(topic string) bool {
	switch p.Kind {
	case All:
		return true
	case Prefix:
		return len(topic) > len(p.Value)+1 &&
			strings.HasPrefix(topic, p.Value) &&
			topic[len(p.Value)] == '.'
	default:
		return topic == p.Value
	}
}

// String returns the pattern in its wire form.
func (p Pattern) String() string {
	switch p.Kind {
	case All:
		return "*"
	case Prefix:
		return p.Value + ".*"
	default:
		return p.Value
	}
}
