package recognition

import (
	"encoding/json"
	"io"
)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string     `json:"role"`
	Content []chatPart `json:"content"`
}

type chatPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type minimalRequest struct {
	Image    string `json:"image"`
	Filename string `json:"filename"`
}

// writeEnvelope serializes req in the configured shape.
func (c *Client) writeEnvelope(w io.Writer, req Request) error {
	var body any
	switch c.cfg.Envelope {
	case EnvelopeMinimal:
		body = minimalRequest{Image: req.Payload.Data, Filename: req.filename()}
	default:
		model, instruction := req.Model, req.Instruction
		if model == "" {
			model = c.cfg.Model
		}
		if instruction == "" {
			instruction = c.cfg.Instruction
		}
		body = chatRequest{
			Model: model,
			Messages: []chatMessage{{
				Role: "user",
				Content: []chatPart{
					{Type: "text", Text: instruction},
					{Type: "image_url", ImageURL: &imageURL{URL: req.Payload.DataURI()}},
				},
			}},
			MaxTokens:   c.cfg.MaxTokens,
			Temperature: c.cfg.Temperature,
		}
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(body)
}
