// Package identifier allocates structured business identifiers of the form
// PREFIX-GG-SSSS where GG is a two digit group and SSSS a four digit sequence.
package identifier

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
)

// DefaultPrefix is used when an Allocator carries no prefix.
const DefaultPrefix = "BIZ"

const (
	maxGroup    = 99
	maxSequence = 9999
)

// ErrGroupOverflow is returned once group 99 has exhausted its sequence space.
var ErrGroupOverflow = errors.New("identifier group space exhausted")

// patterns caches one compiled identifier pattern per prefix.
var patterns sync.Map

// Allocator derives the successor of the highest identifier in use. It holds
// no state; callers serialize Next with the write that persists its result.
type Allocator struct {
	Prefix string
}

func (a Allocator) prefix() string {
	if a.Prefix == "" {
		return DefaultPrefix
	}
	return a.Prefix
}

func (a Allocator) pattern() *regexp.Regexp {
	prefix := a.prefix()
	if re, ok := patterns.Load(prefix); ok {
		return re.(*regexp.Regexp)
	}
	re, _ := patterns.LoadOrStore(prefix, regexp.MustCompile(`^`+regexp.QuoteMeta(prefix)+`-(\d{2})-(\d{4})$`))
	return re.(*regexp.Regexp)
}

// Format renders group and sequence under the allocator prefix.
func (a Allocator) Format(group, seq int) string {
	return fmt.Sprintf("%s-%02d-%04d", a.prefix(), group, seq)
}

// Parse splits a well-formed identifier into group and sequence.
func (a Allocator) Parse(id string) (group, seq int, ok bool) {
	m := a.pattern().FindStringSubmatch(id)
	if m == nil {
		return 0, 0, false
	}
	group, _ = strconv.Atoi(m[1])
	seq, _ = strconv.Atoi(m[2])
	return group, seq, true
}

// Valid reports whether id matches the structured format exactly.
func (a Allocator) Valid(id string) bool {
	_, _, ok := a.Parse(id)
	return ok
}

// Next returns the identifier following current. An empty or malformed
// current value starts the space at PREFIX-01-0001.
func (a Allocator) Next(current string) (string, error) {
	group, seq, ok := a.Parse(current)
	if !ok {
		return a.Format(1, 1), nil
	}
	seq++
	if seq > maxSequence {
		seq = 1
		group++
	}
	if group > maxGroup {
		return "", fmt.Errorf("next after %s: %w", current, ErrGroupOverflow)
	}
	return a.Format(group, seq), nil
}

// Max returns the highest well-formed identifier in ids, or "" when none parse.
func (a Allocator) Max(ids []string) string {
	best := ""
	bestGroup, bestSeq := -1, -1
	for _, id := range ids {
		g, s, ok := a.Parse(id)
		if !ok {
			continue
		}
		if g > bestGroup || (g == bestGroup && s > bestSeq) {
			best, bestGroup, bestSeq = id, g, s
		}
	}
	return best
}
