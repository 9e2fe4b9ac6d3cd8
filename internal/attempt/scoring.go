package attempt

import (
	"math"
	"sort"
	"strings"

	"examprep/internal/catalog"
)

type SlotAnswer struct {
	SelectedIDs []int64
	TextAnswer  string
}

type SlotScore struct {
	IsCorrect    bool
	PointsEarned int64
}

// ScoreSlot grades one answer slot against its question. An empty
// submission is simply incorrect, never an error.
func ScoreSlot(q catalog.Question, ans SlotAnswer) SlotScore {
	correct := false
	switch q.Type {
	case catalog.TypeSingle, catalog.TypeMultiple:
		selected := normalizeIDSet(ans.SelectedIDs)
		if len(selected) > 0 {
			correct = equalIDSet(selected, correctAnswerIDs(q))
		}
	case catalog.TypeText:
		submitted := normalizeText(ans.TextAnswer)
		if submitted != "" {
			if canonical, ok := canonicalTextAnswer(q); ok {
				correct = submitted == normalizeText(canonical)
			}
		}
	}

	if !correct {
		return SlotScore{}
	}
	return SlotScore{IsCorrect: true, PointsEarned: q.Points}
}

// Percentage rounds to the nearest whole percent, 0 when there is
// nothing to score.
func Percentage(score, maxScore int64) int {
	if maxScore <= 0 {
		return 0
	}
	return int(math.Round(float64(score) / float64(maxScore) * 100))
}

func correctAnswerIDs(q catalog.Question) []int64 {
	ids := make([]int64, 0, len(q.Answers))
	for _, a := range q.Answers {
		if a.IsCorrect {
			ids = append(ids, a.ID)
		}
	}
	return normalizeIDSet(ids)
}

// canonicalTextAnswer picks the designated correct text for a free-text
// question: lowest display order wins when several rows are flagged.
func canonicalTextAnswer(q catalog.Question) (string, bool) {
	best := -1
	for i, a := range q.Answers {
		if !a.IsCorrect {
			continue
		}
		if best < 0 || lessAnswer(a, q.Answers[best]) {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return q.Answers[best].Text, true
}

func lessAnswer(a, b catalog.Answer) bool {
	if a.DisplayOrder != b.DisplayOrder {
		return a.DisplayOrder < b.DisplayOrder
	}
	return a.ID < b.ID
}

func normalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeIDSet(in []int64) []int64 {
	set := make(map[int64]struct{}, len(in))
	for _, id := range in {
		if id > 0 {
			set[id] = struct{}{}
		}
	}
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func equalIDSet(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
