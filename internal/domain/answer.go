package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// AnswerShape tags which form a submitted answer took after being checked against the question type.
type AnswerShape int

const (
	// ShapeMalformed answers are recorded but always graded incorrect.
	ShapeMalformed AnswerShape = iota
	ShapeOption
	ShapeOptionSet
	ShapeText
)

// AnswerPayload is a submitted answer decoded according to the question type it targets.
type AnswerPayload struct {
	Shape   AnswerShape
	Option  int64
	Options []int64
	Text    string
	raw     json.RawMessage
}

// ParseAnswer decodes raw JSON for the given question type. It never fails: anything that does
// not fit the expected shape comes back as ShapeMalformed.
func ParseAnswer(qt QuestionType, raw json.RawMessage) AnswerPayload {
	p := AnswerPayload{Shape: ShapeMalformed, raw: raw}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return p
	}

	switch qt {
	case SingleChoice, TrueFalse:
		if id, ok := decodeID(trimmed); ok {
			p.Shape, p.Option = ShapeOption, id
		}
	case MultipleChoice:
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil || len(items) == 0 {
			return p
		}
		ids := make([]int64, 0, len(items))
		for _, item := range items {
			id, ok := decodeID(item)
			if !ok {
				return p
			}
			ids = append(ids, id)
		}
		p.Shape, p.Options = ShapeOptionSet, ids
	case FillInTheBlank:
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return p
		}
		if strings.TrimSpace(text) == "" {
			return p
		}
		p.Shape, p.Text = ShapeText, text
	}
	return p
}

// Raw returns the submitted JSON for storage.
func (p AnswerPayload) Raw() string {
	if len(bytes.TrimSpace(p.raw)) == 0 {
		return "null"
	}
	return string(p.raw)
}

// decodeID accepts a JSON integer or a string holding one.
func decodeID(raw json.RawMessage) (int64, bool) {
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}
	switch t := v.(type) {
	case json.Number:
		n = t
	case string:
		n = json.Number(strings.TrimSpace(t))
	default:
		return 0, false
	}
	id, err := strconv.ParseInt(string(n), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
