package discovery

import "strings"

// Interest scoring: an exact substring relationship between an interest and
// the topic is worth 2; otherwise each token shared between the interest and
// the topic is worth 1. Scores sum across all of an agent's interests.

// interestScore computes the relevance of a set of interests to a topic.
func interestScore(interests []string, topic string) int {
	topicNorm := normalize(topic)
	if topicNorm == "" {
		return 0
	}
	topicTokens := tokenize(topicNorm)

	score := 0
	for _, interest := range interests {
		interestNorm := normalize(interest)
		if interestNorm == "" {
			continue
		}
		if strings.Contains(topicNorm, interestNorm) || strings.Contains(interestNorm, topicNorm) {
			score += 2
			continue
		}
		score += overlapCount(tokenize(interestNorm), topicTokens)
	}
	return score
}

// overlapCount returns the number of terms present in both lists.
func overlapCount(a, b []string) int {
	set := make(map[string]bool, len(b))
	for _, term := range b {
		set[term] = true
	}
	count := 0
	for _, term := range a {
		if set[term] {
			count++
		}
	}
	return count
}

// tokenize splits a normalized string into deduplicated word tokens.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	return normalizeSet(fields)
}
