package llm

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/mmm8091/zimmerwald/internal/domain"
)

// summaryPlaceholder fills summary_zh when the model omits it.
const summaryPlaceholder = "（暂无中文摘要）"

// ExtractJSONObject returns the first top-level JSON object in s. Models
// wrap their JSON in prose or code fences, so a plain unmarshal is not
// enough; brace matching skips string contents and escapes.
func ExtractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// flexNumber accepts a JSON number or a string-coercible number; models
// occasionally quote the score.
type flexNumber struct {
	value float64
	set   bool
}

func (f *flexNumber) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		f.value = n
		f.set = true
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			f.value = n
			f.set = true
		}
		return nil
	}
	// Leave unset; the caller treats a missing score as a failure.
	return nil
}

type rawVerdict struct {
	TitleEn   string     `json:"title_en"`
	TitleZh   string     `json:"title_zh"`
	SummaryEn string     `json:"summary_en"`
	SummaryZh string     `json:"summary_zh"`
	Category  string     `json:"category"`
	Score     flexNumber `json:"score"`
	Reasoning string     `json:"ai_reasoning"`
	Tags      []struct {
		En string `json:"en"`
		Zh string `json:"zh"`
	} `json:"tags"`
}

// parseVerdict extracts and normalizes a verdict from free-text model
// output. sourceTitle backs the bilingual title fallbacks.
func parseVerdict(content, sourceTitle string) (*domain.Verdict, error) {
	obj, ok := ExtractJSONObject(content)
	if !ok {
		return nil, ErrNoJSON
	}

	var raw rawVerdict
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, ErrNoJSON
	}
	if strings.TrimSpace(raw.Category) == "" || !raw.Score.set {
		return nil, ErrMissingFields
	}

	category := domain.Category(strings.TrimSpace(raw.Category))
	if !category.Valid() {
		category = domain.CategoryFallback
	}

	score := int(math.Round(raw.Score.value))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	v := &domain.Verdict{
		TitleEn:   strings.TrimSpace(raw.TitleEn),
		TitleZh:   strings.TrimSpace(raw.TitleZh),
		SummaryEn: strings.TrimSpace(raw.SummaryEn),
		SummaryZh: strings.TrimSpace(raw.SummaryZh),
		Category:  category,
		Score:     score,
		Reasoning: strings.TrimSpace(raw.Reasoning),
	}
	if v.TitleEn == "" {
		v.TitleEn = sourceTitle
	}
	if v.TitleZh == "" {
		v.TitleZh = sourceTitle
	}
	if v.SummaryZh == "" {
		v.SummaryZh = summaryPlaceholder
	}
	for _, t := range raw.Tags {
		en := strings.TrimSpace(t.En)
		zh := strings.TrimSpace(t.Zh)
		if en == "" && zh == "" {
			continue
		}
		v.Tags = append(v.Tags, domain.TagPair{En: en, Zh: zh})
	}

	return v, nil
}
