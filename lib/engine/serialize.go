package engine

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

// --------------------------------------------------------------------------
// Output Formats
// --------------------------------------------------------------------------

// Format is the closed set of result serializations the engine offers.
type Format uint64

const (
	FormatStamJSON Format = iota
	FormatPlainText
	FormatHTML
	FormatWebAnnotation // W3C Web Annotation JSON-LD
)

// ContentType returns the MIME type a format is served as.
func (f Format) ContentType() string {
	switch f {
	case FormatStamJSON:
		return "application/json"
	case FormatPlainText:
		return "text/plain"
	case FormatHTML:
		return "text/html"
	case FormatWebAnnotation:
		return "application/ld+json"
	default:
		return "application/octet-stream"
	}
}

func (f Format) String() string {
	switch f {
	case FormatStamJSON:
		return "StamJson"
	case FormatPlainText:
		return "PlainText"
	case FormatHTML:
		return "Html"
	case FormatWebAnnotation:
		return "WebAnnotationJsonLd"
	default:
		return "Unknown"
	}
}

// WebAnnoConfig carries the IRI bases and namespace remapping used when
// emitting Web Annotation JSON-LD. The pool derives one per store from the
// service base URL.
type WebAnnoConfig struct {
	// AnnotationBase is prefixed to annotation ids to form their IRI.
	AnnotationBase string
	// ResourceBase is prefixed to resource ids to form target source IRIs.
	ResourceBase string
	// Namespaces remaps "prefix:" in data set names to a full URL.
	Namespaces map[string]string
}

// expand resolves a possibly-prefixed set name against the namespace table.
func (c *WebAnnoConfig) expand(set string) string {
	if c == nil {
		return set
	}
	if i := strings.Index(set, ":"); i > 0 {
		if base, ok := c.Namespaces[set[:i]]; ok {
			return base + set[i+1:]
		}
	}
	return set
}

// --------------------------------------------------------------------------
// Serialization
// --------------------------------------------------------------------------

// Serialize renders a result set in the requested format. Web Annotation
// output is only defined for annotation items carrying data; anything else
// fails with KindConversion (negotiation succeeded, the data cannot comply).
func Serialize(rs *ResultSet, f Format, cfg *WebAnnoConfig) ([]byte, error) {
	switch f {
	case FormatStamJSON:
		return serializeJSON(rs)
	case FormatPlainText:
		return serializePlain(rs), nil
	case FormatHTML:
		return serializeHTML(rs), nil
	case FormatWebAnnotation:
		return serializeWebAnno(rs, cfg)
	default:
		return nil, NewError(KindConversion, "unknown format")
	}
}

func serializeJSON(rs *ResultSet) ([]byte, error) {
	rows := make([]map[string]interface{}, 0, len(rs.Items))
	for _, item := range rs.Items {
		row := map[string]interface{}{"name": rs.Name, "text": item.Text}
		if item.Kind == ItemAnnotation {
			a := item.Annotation
			row["@type"] = "Annotation"
			row["@id"] = a.ID
			row["target"] = map[string]interface{}{
				"@type":    "TextSelector",
				"resource": a.Resource,
				"begin":    a.Begin,
				"end":      a.End,
			}
			if len(a.Data) > 0 {
				row["data"] = a.Data
			}
		} else {
			row["@type"] = "TextResource"
			row["@id"] = item.Resource.ID
		}
		rows = append(rows, row)
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, NewError(KindConversion, "cannot marshal result set: %v", err)
	}
	return raw, nil
}

func serializePlain(rs *ResultSet) []byte {
	var sb strings.Builder
	for _, item := range rs.Items {
		sb.WriteString(item.Text)
		sb.WriteString("\n")
	}
	return []byte(sb.String())
}

func serializeHTML(rs *ResultSet) []byte {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>results</title></head><body>\n")
	sb.WriteString("<table>\n<tr><th>id</th><th>text</th></tr>\n")
	for _, item := range rs.Items {
		id := ""
		if item.Kind == ItemAnnotation {
			id = item.Annotation.ID
		} else {
			id = item.Resource.ID
		}
		sb.WriteString(fmt.Sprintf("<tr><td>%s</td><td>%s</td></tr>\n",
			html.EscapeString(id), html.EscapeString(item.Text)))
	}
	sb.WriteString("</table>\n</body></html>\n")
	return []byte(sb.String())
}

func serializeWebAnno(rs *ResultSet, cfg *WebAnnoConfig) ([]byte, error) {
	annos := make([]map[string]interface{}, 0, len(rs.Items))
	for _, item := range rs.Items {
		if item.Kind != ItemAnnotation {
			return nil, NewError(KindConversion,
				"Web Annotation output is only defined for annotations")
		}
		a := item.Annotation
		if len(a.Data) == 0 {
			return nil, NewError(KindConversion,
				"annotation %q carries no data and cannot be expressed as a Web Annotation", a.ID)
		}
		bodies := make([]map[string]interface{}, 0, len(a.Data))
		for _, d := range a.Data {
			bodies = append(bodies, map[string]interface{}{
				"type":    "TextualBody",
				"purpose": cfg.expand(d.Set) + "#" + d.Key,
				"value":   d.Value,
			})
		}
		annoBase, resBase := "", ""
		if cfg != nil {
			annoBase, resBase = cfg.AnnotationBase, cfg.ResourceBase
		}
		annos = append(annos, map[string]interface{}{
			"@context": "http://www.w3.org/ns/anno.jsonld",
			"id":       annoBase + a.ID,
			"type":     "Annotation",
			"body":     bodies,
			"target": map[string]interface{}{
				"source": resBase + a.Resource,
				"selector": map[string]interface{}{
					"type":  "TextPositionSelector",
					"start": a.Begin,
					"end":   a.End,
				},
			},
		})
	}
	raw, err := json.Marshal(annos)
	if err != nil {
		return nil, NewError(KindConversion, "cannot marshal annotations: %v", err)
	}
	return raw, nil
}
