package trie

import (
	"math/rand"
	"strings"
	"testing"
)

func generateRandomNames(count, maxDepth int) []string {
	names := make([]string, count)
	for i := range count {
		depth := rand.Intn(maxDepth) + 1
		parts := make([]string, depth)
		for j := range depth {
			parts[j] = string(rune('a' + rand.Intn(26)))
		}
		names[i] = strings.Join(parts, "/")
	}
	return names
}

func BenchmarkMatch(b *testing.B) {
	sizes := []struct {
		name     string
		count    int
		maxDepth int
	}{
		{"Small", 100, 3},
		{"Medium", 1000, 5},
		{"Large", 10000, 8},
	}

	for _, size := range sizes {
		b.Run(size.name, func(b *testing.B) {
			set := NewPrefixSet()
			for _, p := range generateRandomNames(size.count, size.maxDepth) {
				set.Add(p + "/")
			}
			queries := generateRandomNames(1000, size.maxDepth+2)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				set.Match(queries[i%len(queries)])
			}
		})
	}
}
