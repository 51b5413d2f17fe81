package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanContainerNumber(t *testing.T) {
	table := []struct {
		input    string
		expected string
	}{
		{input: "HMMU6012345", expected: "HMMU6012345"},
		{input: " hmmu 601234-5 ", expected: "HMMU6012345"},
		{input: "tgbu\t555-0001\n", expected: "TGBU5550001"},
		{input: "  ", expected: ""},
	}
	for _, test := range table {
		require.Equal(t, test.expected, CleanContainerNumber(test.input))
	}
}

func TestMatchName(t *testing.T) {
	require.True(t, MatchName("HMM (Hyundai Merchant Marine)", []string{"hyundai"}))
	require.True(t, MatchName("H M M", []string{"hmm"}))
	require.False(t, MatchName("Maersk", []string{"hmm", "hyundai"}))
	require.False(t, MatchName("", []string{"hmm"}))
	require.False(t, MatchName("hmm", []string{" "}))
}

func TestSimilarity(t *testing.T) {
	require.Equal(t, 1.0, Similarity("Hyundai", "hyundai "))
	require.Greater(t, Similarity("hyundia", "hyundai"), 0.85)
	require.Less(t, Similarity("maersk", "hyundai"), 0.85)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", Truncate("short", 10))
	require.Equal(t, "abc", Truncate("abcdef", 3))
	// "é" is two bytes, cutting in the middle drops it
	require.Equal(t, "ab", Truncate("abé", 3))
}
