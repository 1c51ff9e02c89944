package pipeline

import (
	"context"

	"github.com/couchcryptid/incident-map-service/internal/domain"
)

// DraftParser turns raw report text into a normalized Draft.
type DraftParser struct {
	extractor domain.Extractor
}

// NewDraftParser creates a DraftParser backed by extractor.
func NewDraftParser(extractor domain.Extractor) *DraftParser {
	return &DraftParser{extractor: extractor}
}

// Parse extracts draft fields from text. A failed extraction call returns a
// *domain.ParseFailure; weak output is normalized to defaults instead.
func (p *DraftParser) Parse(ctx context.Context, text string) (domain.Draft, error) {
	fields, err := p.extractor.Extract(ctx, text)
	if err != nil {
		return domain.Draft{}, &domain.ParseFailure{Err: err}
	}
	return domain.NormalizeDraft(fields), nil
}
