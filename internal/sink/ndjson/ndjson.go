// Package ndjson encodes crawl records as newline-delimited JSON.
package ndjson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// ContentType is the media type of the encoded stream.
const ContentType = "application/x-ndjson"

// Encode writes one JSON object per record, each followed by a newline.
// Records without labels are written with an empty tags array.
func Encode(w io.Writer, records []crawler.Record) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if rec.Labels == nil {
			rec.Labels = []string{}
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return nil
}

// Marshal returns the encoded stream as a byte slice.
func Marshal(records []crawler.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
