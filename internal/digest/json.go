package digest

import (
	"encoding/json"
	"io"
	"time"
)

type jsonOutput struct {
	Meta    jsonMeta     `json:"meta"`
	Sources []jsonSource `json:"sources"`
}

type jsonMeta struct {
	Sources int    `json:"sources"`
	Items   int    `json:"items"`
	Since   string `json:"since"`
}

type jsonSource struct {
	Source string     `json:"source"`
	Kind   string     `json:"kind"`
	Items  []jsonItem `json:"items"`
}

type jsonItem struct {
	ID         string `json:"id"`
	Account    string `json:"account"`
	Author     string `json:"author,omitempty"`
	Text       string `json:"text"`
	URL        string `json:"url,omitempty"`
	CreatedAt  string `json:"created_at"`
	ReceivedAt string `json:"received_at"`
	MessageID  string `json:"message_id"`
}

// JSONFormatter formats items as JSON.
type JSONFormatter struct{}

// NewJSON creates a JSON formatter.
func NewJSON() *JSONFormatter {
	return &JSONFormatter{}
}

// Format writes the items as JSON to w.
func (f *JSONFormatter) Format(w io.Writer, input Input) error {
	groups := groupBySource(input.Items)

	out := jsonOutput{
		Meta: jsonMeta{
			Sources: len(groups),
			Items:   len(input.Items),
			Since:   formatDuration(input.Since),
		},
		Sources: make([]jsonSource, 0, len(groups)),
	}
	for _, g := range groups {
		js := jsonSource{Source: g.Source, Kind: g.Kind, Items: make([]jsonItem, 0, len(g.Items))}
		for _, item := range g.Items {
			js.Items = append(js.Items, jsonItem{
				ID:         item.ExternalID,
				Account:    item.Account,
				Author:     item.Author,
				Text:       item.Text,
				URL:        item.URL,
				CreatedAt:  item.CreatedAt.UTC().Format(time.RFC3339),
				ReceivedAt: item.ReceivedAt.UTC().Format(time.RFC3339),
				MessageID:  item.MessageID,
			})
		}
		out.Sources = append(out.Sources, js)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
