package mattermost

import (
	"regexp"
	"strings"
	"sync"
)

// Qualifier decides whether a post text qualifies for the escalation
// pipeline. The decision is opaque to the bridge core; here it is a
// configurable pattern (default: the ticket mask the source team puts
// into thread openers). An empty pattern qualifies everything.
type Qualifier struct {
	mu sync.RWMutex
	re *regexp.Regexp
}

func NewQualifier(pattern string) (*Qualifier, error) {
	q := &Qualifier{}
	if err := q.SetPattern(pattern); err != nil {
		return nil, err
	}
	return q, nil
}

// SetPattern replaces the pattern (config hot reload).
func (q *Qualifier) SetPattern(pattern string) error {
	pattern = strings.TrimSpace(pattern)
	var re *regexp.Regexp
	if pattern != "" {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return err
		}
	}
	q.mu.Lock()
	q.re = re
	q.mu.Unlock()
	return nil
}

func (q *Qualifier) Qualifies(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	q.mu.RLock()
	re := q.re
	q.mu.RUnlock()
	if re == nil {
		return true
	}
	return re.MatchString(text)
}
