package thread

import (
	"hash/fnv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/text/cases"
)

// similarityThreshold is the percentage above which two subjects belong to
// the same conversation
const similarityThreshold = 80.0

var replyPrefixes = []string{"re:", "fwd:", "fw:", "aw:", "wg:", "sv:", "antw:"}

// subjects memoizes normalized subjects. It is not safe for concurrent use.
type subjects struct {
	memo *lru.Cache[string, string]
	fold cases.Caser
}

func newSubjects(size int) (*subjects, error) {
	memo, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &subjects{memo: memo, fold: cases.Fold()}, nil
}

func (s *subjects) normalize(subject string) string {
	if v, ok := s.memo.Get(subject); ok {
		return v
	}
	v := normalizeSubject(s.fold.String(subject))
	s.memo.Add(subject, v)
	return v
}

// normalizeSubject strips reply and forward prefixes together with
// bracketed list tags from a case-folded subject
func normalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		before := s
		for _, p := range replyPrefixes {
			if strings.HasPrefix(s, p) {
				s = strings.TrimSpace(strings.TrimPrefix(s, p))
			}
		}
		if strings.HasPrefix(s, "[") {
			if end := strings.Index(s, "]"); end > 0 {
				s = strings.TrimSpace(s[end+1:])
			}
		}
		if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
		if s == before {
			return s
		}
	}
}

// subjectHash returns the grouping key of a normalized subject; zero means
// the subject is empty and never groups
func subjectHash(normalized string) uint64 {
	if normalized == "" {
		return 0
	}
	h := fnv.New64a()
	h.Write([]byte(normalized)) //nolint:errcheck
	return h.Sum64()
}

// similar reports whether two normalized subjects are close enough to
// follow a reference between them
func similar(a, b string) bool {
	if a == b {
		return true
	}
	m := newMatcher(a, b)
	// RealQuickRatio is an upper bound of Ratio
	if m.RealQuickRatio()*100 <= similarityThreshold {
		return false
	}
	return m.Ratio()*100 > similarityThreshold
}

// maxCompareRunes bounds the prefix of each subject that is compared
const maxCompareRunes = 256

// similarity returns the percentage of characters two strings share,
// counted as the sum of longest common blocks found recursively on either
// side of each match
func similarity(a, b string) float64 {
	return newMatcher(a, b).Ratio() * 100
}

// newMatcher compares the leading runes of a and b one rune per element,
// with no junk heuristic
func newMatcher(a, b string) *difflib.SequenceMatcher {
	return difflib.NewMatcherWithJunk(runes(a), runes(b), false, nil)
}

func runes(s string) []string {
	out := make([]string, 0, maxCompareRunes)
	for _, r := range s {
		if len(out) == maxCompareRunes {
			break
		}
		out = append(out, string(r))
	}
	return out
}
