package feeds

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// XMLParser streams a feed and decodes every record element into a map.
// Child elements become keys, repeated children become lists, attributes
// are stored under "@name" and leaf text is trimmed.
type XMLParser struct {
	// RecordElements are the element names treated as one record each.
	RecordElements []string
}

func NewXMLParser(records ...string) *XMLParser {
	if len(records) == 0 {
		records = []string{"towar", "product", "item"}
	}
	return &XMLParser{RecordElements: records}
}

func (p *XMLParser) Format() string { return "xml" }

func (p *XMLParser) Parse(r io.Reader) (*Feed, error) {
	dec := xml.NewDecoder(bufio.NewReader(r))
	// eksporty PCM przychodzą w windows-1250 / iso-8859-2
	dec.CharsetReader = func(cs string, in io.Reader) (io.Reader, error) {
		return charset.NewReaderLabel(normalizeCharset(cs), in)
	}

	isRecord := make(map[string]bool, len(p.RecordElements))
	for _, name := range p.RecordElements {
		isRecord[strings.ToLower(name)] = true
	}

	feed := &Feed{Records: []map[string]any{}}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("xml feed: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		name := strings.ToLower(se.Name.Local)
		switch {
		case isRecord[name]:
			v, err := decodeElement(dec, se)
			if err != nil {
				return nil, fmt.Errorf("xml feed: record %d: %w", len(feed.Records)+1, err)
			}
			rec, ok := v.(map[string]any)
			if !ok {
				// a bare <product>text</product> is not a record
				continue
			}
			feed.Records = append(feed.Records, rec)
		case batchIDKeys[name] && feed.BatchID == "":
			var id string
			if err := dec.DecodeElement(&id, &se); err != nil {
				return nil, fmt.Errorf("xml feed: %s: %w", se.Name.Local, err)
			}
			feed.BatchID = strings.TrimSpace(id)
		}
	}
	return feed, nil
}

// decodeElement reads until the matching end element. Leaves return their
// text, elements with children or attributes return a map.
func decodeElement(dec *xml.Decoder, start xml.StartElement) (any, error) {
	out := map[string]any{}
	for _, a := range start.Attr {
		out["@"+a.Name.Local] = a.Value
	}
	var text strings.Builder
	children := 0

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			v, err := decodeElement(dec, t)
			if err != nil {
				return nil, err
			}
			children++
			addChild(out, t.Name.Local, v)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			s := strings.TrimSpace(text.String())
			if children == 0 && len(out) == 0 {
				return s, nil
			}
			if children == 0 && s != "" {
				out["#text"] = s
			}
			return out, nil
		}
	}
}

func addChild(m map[string]any, key string, v any) {
	prev, ok := m[key]
	if !ok {
		m[key] = v
		return
	}
	if list, ok := prev.([]any); ok {
		m[key] = append(list, v)
		return
	}
	m[key] = []any{prev, v}
}

// normalizeCharset mapuje nietypowe etykiety na nazwy rozpoznawane przez charset.NewReaderLabel
func normalizeCharset(cs string) string {
	c := strings.TrimSpace(strings.ToLower(cs))
	switch c {
	case "latin ii", "latin-2", "latin2", "iso8859-2", "iso_8859-2":
		return "iso-8859-2"
	case "cp1250", "windows1250", "win-1250":
		return "windows-1250"
	default:
		return c
	}
}

func init() {
	Register("xml", NewXMLParser())
}
