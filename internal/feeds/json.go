package feeds

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// JSONParser accepts a top-level array of records or an object holding the
// records under "products" (or "items") plus an optional batch id.
type JSONParser struct{}

func (JSONParser) Format() string { return "json" }

func (JSONParser) Parse(r io.Reader) (*Feed, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return &Feed{Records: []map[string]any{}}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if raw[0] == '[' {
		var recs []map[string]any
		if err := dec.Decode(&recs); err != nil {
			return nil, fmt.Errorf("json feed: %w", err)
		}
		return &Feed{Records: nonNil(recs)}, nil
	}

	var doc struct {
		BatchID  string           `json:"batch_id"`
		Products []map[string]any `json:"products"`
		Items    []map[string]any `json:"items"`
	}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("json feed: %w", err)
	}
	recs := doc.Products
	if len(recs) == 0 {
		recs = doc.Items
	}
	return &Feed{BatchID: doc.BatchID, Records: nonNil(recs)}, nil
}

func nonNil(recs []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(recs))
	for _, r := range recs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func init() {
	Register("json", JSONParser{})
}
