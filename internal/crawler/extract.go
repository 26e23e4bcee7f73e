package crawler

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/metrics"
)

// SelectorExtractor implements RecordExtractor with CSS selectors.
type SelectorExtractor struct {
	selectors Selectors
	logger    *zap.Logger
}

// NewSelectorExtractor builds an extractor for the given selectors.
func NewSelectorExtractor(selectors Selectors, logger *zap.Logger) *SelectorExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SelectorExtractor{selectors: selectors, logger: logger}
}

// Extract returns every well-formed record on the page in document order.
// Malformed containers are logged and skipped.
func (e *SelectorExtractor) Extract(page PageDocument) []Record {
	if page.Doc == nil {
		return []Record{}
	}
	containers := page.Doc.Find(e.selectors.Container)
	records := make([]Record, 0, containers.Length())
	containers.Each(func(i int, s *goquery.Selection) {
		rec, err := e.parseRecord(s)
		if err != nil {
			metrics.ObserveDroppedRecord()
			e.logger.Warn("dropping malformed record",
				zap.String("url", page.URL),
				zap.Int("position", i),
				zap.Error(err),
			)
			return
		}
		records = append(records, rec)
	})
	return records
}

func (e *SelectorExtractor) parseRecord(s *goquery.Selection) (Record, error) {
	text := s.Find(e.selectors.Text).First()
	if text.Length() == 0 {
		return Record{}, fmt.Errorf("%w: %s", ErrFieldMissing, e.selectors.Text)
	}
	author := s.Find(e.selectors.Author).First()
	if author.Length() == 0 {
		return Record{}, fmt.Errorf("%w: %s", ErrFieldMissing, e.selectors.Author)
	}
	tags := s.Find(e.selectors.Tags)
	labels := make([]string, 0, tags.Length())
	tags.Each(func(_ int, tag *goquery.Selection) {
		labels = append(labels, tag.Text())
	})
	return Record{
		Text:   text.Text(),
		Source: author.Text(),
		Labels: labels,
	}, nil
}
