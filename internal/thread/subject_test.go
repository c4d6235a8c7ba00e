package thread

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSubject(t *testing.T) {
	s, err := newSubjects(8)
	require.NoError(t, err)

	tests := []struct {
		in   string
		want string
	}{
		{"Project plan", "project plan"},
		{"Re: Project plan", "project plan"},
		{"RE: Fwd: re: Project plan", "project plan"},
		{"AW: WG: Angebot", "angebot"},
		{"[dev-list] Re: Build broken", "build broken"},
		{"Re: [dev-list] Build broken", "build broken"},
		{"(no subject)", "no subject"},
		{"  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, s.normalize(tt.in))
			// memoized
			assert.Equal(t, tt.want, s.normalize(tt.in))
		})
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 100.0, similarity("hello", "hello"))
	assert.Equal(t, 100.0, similarity("", ""))
	assert.Equal(t, 0.0, similarity("abc", "xyz"))
	assert.InDelta(t, 88.89, similarity("world", "word"), 0.01)

	assert.True(t, similar("", ""))
	assert.True(t, similar("quarterly report", "quarterly reports"))
	assert.False(t, similar("invoice 2024", "lunch on friday?"))
	assert.False(t, similar("", "status"))
}

func TestSimilarityOfLongSubjects(t *testing.T) {
	a := strings.Repeat("ab", 2000)
	b := strings.Repeat("ba", 1999) + "zz"
	assert.InDelta(t, 99.61, similarity(a, b), 0.01)
	assert.True(t, similar(a, b))

	// only the leading runes are compared
	prefix := strings.Repeat("é", maxCompareRunes)
	assert.Equal(t, 100.0, similarity(prefix+"tail one", prefix+"another tail"))
}

func BenchmarkSimilarityLongSubject(b *testing.B) {
	x := strings.Repeat("ab", 2000)
	y := strings.Repeat("ba", 1999) + "zz"
	for i := 0; i < b.N; i++ {
		similarity(x, y)
	}
}

func TestSubjectHash(t *testing.T) {
	assert.Zero(t, subjectHash(""))
	assert.Equal(t, subjectHash("budget"), subjectHash("budget"))
	assert.NotEqual(t, subjectHash("budget"), subjectHash("holiday"))
}
