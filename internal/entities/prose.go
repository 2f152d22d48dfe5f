package entities

import (
	"context"
	"fmt"

	"github.com/jdkato/prose/v2"
)

// ProseRecognizer runs prose's averaged-perceptron NER model.
type ProseRecognizer struct{}

func NewProseRecognizer() *ProseRecognizer {
	return &ProseRecognizer{}
}

func (r *ProseRecognizer) Recognize(ctx context.Context, text string) ([]Span, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := prose.NewDocument(text,
		prose.WithSegmentation(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse text: %w", err)
	}

	ents := doc.Entities()
	spans := make([]Span, 0, len(ents))
	for _, e := range ents {
		spans = append(spans, Span{Label: e.Label, Text: e.Text})
	}
	return spans, nil
}
