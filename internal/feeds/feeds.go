// Package feeds decodes supplier feed files into raw records. Records keep
// the supplier's field names; source field mappings rename them later.
package feeds

import (
	"io"
)

// Feed is one decoded feed document.
type Feed struct {
	// BatchID is the export identifier some feeds carry (transmisja_id, batch_id).
	BatchID string
	Records []map[string]any
}

type Parser interface {
	Format() string
	Parse(r io.Reader) (*Feed, error)
}

// batchIDKeys name the document-level elements read as Feed.BatchID.
var batchIDKeys = map[string]bool{
	"transmisja_id": true,
	"batch_id":      true,
	"export_id":     true,
}
