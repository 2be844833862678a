package recognition

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/MeKo-Tech/snaprec/internal/failure"
	"golang.org/x/text/unicode/norm"
)

// Source identifies where the result text was found.
type Source string

const (
	SourceChoices Source = "choices"
	SourceResult  Source = "result"
	SourceRaw     Source = "raw"
)

type responseBody struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Result json.RawMessage `json:"result"`
}

// Extract pulls the result text out of a 2xx body, trying
// choices[0].message.content, then a top-level "result" string, then the raw
// body. An empty body is malformed; with strict set, so is a body that
// matches neither schema.
func Extract(raw []byte, strict bool) (string, Source, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", "", failure.Newf(failure.KindMalformedResponse, op, "empty response body")
	}

	var body responseBody
	if err := json.Unmarshal(trimmed, &body); err == nil {
		if len(body.Choices) > 0 {
			if text, ok := contentText(body.Choices[0].Message.Content); ok {
				return clean(text), SourceChoices, nil
			}
		}
		var result string
		if len(body.Result) > 0 && json.Unmarshal(body.Result, &result) == nil && strings.TrimSpace(result) != "" {
			return clean(result), SourceResult, nil
		}
	}

	if strict {
		return "", "", failure.Newf(failure.KindMalformedResponse, op, "body matches neither response schema")
	}
	return clean(string(trimmed)), SourceRaw, nil
}

// contentText accepts a plain string or an array of {type, text} parts.
func contentText(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, strings.TrimSpace(s) != ""
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if json.Unmarshal(raw, &parts) != nil {
		return "", false
	}
	var sb strings.Builder
	for _, p := range parts {
		if p.Type != "" && p.Type != "text" {
			continue
		}
		if sb.Len() > 0 && p.Text != "" {
			sb.WriteByte('\n')
		}
		sb.WriteString(p.Text)
	}
	return sb.String(), strings.TrimSpace(sb.String()) != ""
}

func clean(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}
