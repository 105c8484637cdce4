package feed

import (
	"bytes"
	"errors"
	"strings"

	"github.com/mmcdole/gofeed/rss"
)

var errNoChannel = errors.New("document has no items container")

// Parse decodes an RSS 2.0 document. Every item must carry a guid, a title, a link and an
// enclosure url; the first item lacking one fails the whole document.
func Parse(raw []byte) (Snapshot, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &ParseError{Index: -1, Err: errNoChannel}
	}

	var p rss.Parser
	doc, err := p.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, &ParseError{Index: -1, Err: err}
	}

	snap := make(Snapshot, 0, len(doc.Items))
	for i, it := range doc.Items {
		item, field := convertItem(it)
		if field != "" {
			return nil, &ParseError{Index: i, Field: field}
		}
		snap = append(snap, item)
	}
	return snap, nil
}

// convertItem maps a parsed RSS item and returns the name of the first missing field, if any.
func convertItem(it *rss.Item) (Item, string) {
	var item Item

	if it.GUID != nil {
		item.ID = strings.TrimSpace(it.GUID.Value)
	}
	if item.ID == "" {
		return Item{}, "guid"
	}

	item.Title = strings.TrimSpace(it.Title)
	if item.Title == "" {
		return Item{}, "title"
	}

	item.Link = strings.TrimSpace(it.Link)
	if item.Link == "" {
		return Item{}, "link"
	}

	if it.Enclosure != nil {
		item.MediaURL = strings.TrimSpace(it.Enclosure.URL)
	}
	if item.MediaURL == "" {
		return Item{}, "enclosure url"
	}

	return item, ""
}
