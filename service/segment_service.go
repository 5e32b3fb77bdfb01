package service

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tieubaoca/cramcortex-be/types"
)

var (
	// Leading markers that open a question: "1." "1)" "(1)" "1-" "Question 3:" "Q4."
	numberedStartRe = regexp.MustCompile(`^\s*(\d+)\s*[\.\)\-:]\s*`)
	parenStartRe    = regexp.MustCompile(`^\s*\((\d+)\)\s*`)
	wordStartRe     = regexp.MustCompile(`(?i)^\s*(?:question|q)\s*(\d+)\s*[\.\):\-]?\s*`)

	// A run of lettered answer choices signals the body of a multiple-choice
	// question; a numbered line after such a run belongs to the next question.
	answerChoiceRe = regexp.MustCompile(`^\s*\(?([A-Da-d])[\.\)]\s+\S`)
)

// SegmentService splits extracted text into ordered question spans using
// structural markers. A document with no markers at all degrades to a single
// span covering the whole text.
type SegmentService struct {
	minSegmentLen int
}

func NewSegmentService() *SegmentService {
	return &SegmentService{minSegmentLen: 15}
}

// Segment returns the ordered question spans of text. The returned slice is
// empty only when the text itself is blank.
func (s *SegmentService) Segment(text string) []types.Segment {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	segments := s.splitByMarkers(lines)

	if len(segments) == 0 {
		if len(text) < s.minSegmentLen {
			// too short to be a question at all
			return nil
		}
		// No structural markers anywhere: one degraded span, flagged so the
		// classifier scores it low instead of erroring.
		return []types.Segment{{Ordinal: 0, Text: text, Degraded: true}}
	}
	return segments
}

func (s *SegmentService) splitByMarkers(lines []string) []types.Segment {
	var segments []types.Segment
	var current []string
	currentNumber := 0
	inChoices := false

	flush := func() {
		if len(current) == 0 {
			return
		}
		body := strings.TrimSpace(strings.Join(current, "\n"))
		if len(body) >= s.minSegmentLen {
			segments = append(segments, types.Segment{
				Ordinal: len(segments),
				Number:  currentNumber,
				Text:    body,
			})
		}
		current = nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			// blank lines separate questions only after a choice run ended
			if inChoices {
				flush()
				inChoices = false
			}
			continue
		}

		number, isStart := questionNumber(trimmed)
		switch {
		case isStart:
			// A line that both closes the previous question and opens the
			// next is assigned to the new question.
			flush()
			currentNumber = number
			inChoices = false
			current = append(current, trimmed)
		case answerChoiceRe.MatchString(trimmed):
			inChoices = true
			current = append(current, trimmed)
		default:
			if inChoices {
				// prose after a full choice run starts a new unnumbered span
				flush()
				currentNumber = 0
				inChoices = false
			}
			current = append(current, trimmed)
		}
	}
	flush()

	// Markers matched nothing useful: report no segments so the caller can
	// degrade to the whole text.
	if len(segments) == 1 && segments[0].Number == 0 {
		return nil
	}
	return segments
}

// questionNumber reports whether the line opens a numbered question, and the
// marker number when it does.
func questionNumber(line string) (int, bool) {
	for _, re := range []*regexp.Regexp{numberedStartRe, parenStartRe, wordStartRe} {
		if m := re.FindStringSubmatch(line); m != nil {
			// choice lines are lettered A-D and never match these patterns,
			// so a numbered marker here always opens a question
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return 0, false
			}
			rest := strings.TrimSpace(line[len(m[0]):])
			if rest == "" {
				return 0, false
			}
			return n, true
		}
	}
	return 0, false
}

var inlineChoiceRe = regexp.MustCompile(`\(?\b([A-D])[\.\)]\s*`)

// ExtractAnswerChoices pulls the lettered choices out of a question span.
// Choices may sit one per line or run inline after the stem
// ("... A) 3 B) 4 C) 5").
func ExtractAnswerChoices(text string) []string {
	var choices []string
	seen := map[string]bool{}
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		locs := inlineChoiceRe.FindAllStringSubmatchIndex(trimmed, -1)
		if len(locs) == 0 {
			continue
		}
		for i, loc := range locs {
			letter := trimmed[loc[2]:loc[3]]
			if seen[letter] {
				continue
			}
			end := len(trimmed)
			if i+1 < len(locs) {
				end = locs[i+1][0]
			}
			body := strings.TrimSpace(trimmed[loc[1]:end])
			if body == "" {
				continue
			}
			seen[letter] = true
			choices = append(choices, letter+") "+body)
		}
	}
	return choices
}
