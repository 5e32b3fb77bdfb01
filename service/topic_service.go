package service

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// TopicLabeler derives a human-readable name and ranked keywords for one
// cluster of question texts, given the rest of the corpus for contrast.
// Labeling is heuristic, so it sits behind an interface and can be swapped
// without touching the clustering engine.
type TopicLabeler interface {
	Label(members []string, rest []string) (name string, keywords []string)
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "best": true, "between": true, "by": true, "can": true,
	"do": true, "does": true, "following": true, "for": true, "from": true,
	"how": true, "if": true, "in": true, "is": true, "it": true, "its": true,
	"not": true, "of": true, "on": true, "or": true, "should": true,
	"that": true, "the": true, "this": true, "to": true, "true": true,
	"false": true, "was": true, "what": true, "when": true, "where": true,
	"which": true, "who": true, "why": true, "will": true, "with": true,
	"would": true, "you": true, "your": true,
}

var wordRe = regexp.MustCompile(`[a-zA-Z][a-zA-Z\-]{2,}`)

// ContrastLabeler scores terms by in-cluster frequency against frequency in
// the rest of the corpus, then synthesizes a short label from the top terms.
type ContrastLabeler struct {
	maxKeywords int
}

func NewContrastLabeler(maxKeywords int) *ContrastLabeler {
	if maxKeywords <= 0 {
		maxKeywords = 5
	}
	return &ContrastLabeler{maxKeywords: maxKeywords}
}

func (l *ContrastLabeler) Label(members []string, rest []string) (string, []string) {
	memberFreq := termFrequencies(members)
	restFreq := termFrequencies(rest)

	type scored struct {
		term  string
		score float64
	}
	scoredTerms := make([]scored, 0, len(memberFreq))
	for term, tf := range memberFreq {
		// contrast: frequent here, rare elsewhere
		score := float64(tf) / (1.0 + float64(restFreq[term]))
		scoredTerms = append(scoredTerms, scored{term, score})
	}
	sort.Slice(scoredTerms, func(i, j int) bool {
		if scoredTerms[i].score != scoredTerms[j].score {
			return scoredTerms[i].score > scoredTerms[j].score
		}
		return scoredTerms[i].term < scoredTerms[j].term
	})

	keywords := make([]string, 0, l.maxKeywords)
	for _, st := range scoredTerms {
		if st.score <= 1.0 {
			break // not discriminative against the rest of the corpus
		}
		keywords = append(keywords, st.term)
		if len(keywords) == l.maxKeywords {
			break
		}
	}

	if len(keywords) == 0 {
		// degenerate cluster: nothing distinguishes it
		return fmt.Sprintf("General (%d questions)", len(members)), []string{"general"}
	}

	return synthesizeName(keywords), keywords
}

func termFrequencies(texts []string) map[string]int {
	freq := make(map[string]int)
	for _, text := range texts {
		for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
			if stopwords[w] {
				continue
			}
			freq[w]++
		}
	}
	return freq
}

// synthesizeName joins the top terms into a short title-cased label.
func synthesizeName(keywords []string) string {
	n := len(keywords)
	if n > 3 {
		n = 3
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		w := keywords[i]
		parts[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(parts, " & ")
}
