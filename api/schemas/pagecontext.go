package schemas

import (
	"fmt"
	"hash/fnv"
	"sort"
	"time"
)

// -- Page Context Schemas --

// PageKind is a coarse classification of the current page, used both as an
// oracle hint and as one component of the stagnation fingerprint.
type PageKind string

const (
	PageHome     PageKind = "home"
	PageSearch   PageKind = "search"
	PageListing  PageKind = "listing"
	PageDetail   PageKind = "detail"
	PageForm     PageKind = "form"
	PageCheckout PageKind = "checkout"
	PageUnknown  PageKind = "unknown"
)

// PageElement is one visible interactive element with its viewport geometry.
// CenterX/CenterY are what the oracle targets; the box is kept for ranking.
type PageElement struct {
	Kind    string `json:"kind"`
	Label   string `json:"label"`
	CenterX int    `json:"center_x"`
	CenterY int    `json:"center_y"`
	Left    int    `json:"left"`
	Top     int    `json:"top"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// PageContext is the read-only snapshot of a page handed to the oracle: a
// screenshot plus a structured summary. Building it never mutates the page.
type PageContext struct {
	URL        string        `json:"url"`
	Title      string        `json:"title"`
	Kind       PageKind      `json:"kind"`
	Heading    string        `json:"heading,omitempty"`
	Elements   []PageElement `json:"elements"`
	Screenshot string        `json:"screenshot,omitempty"`
	CapturedAt time.Time     `json:"captured_at"`
}

// Fingerprint hashes the classification and the element set. Element order is
// normalized first so cosmetic reordering does not defeat stagnation detection.
func (p *PageContext) Fingerprint() uint64 {
	h := fnv.New64a()
	if p == nil {
		return h.Sum64()
	}
	h.Write([]byte(p.Kind))
	labels := make([]string, 0, len(p.Elements))
	for _, el := range p.Elements {
		labels = append(labels, fmt.Sprintf("%s|%s", el.Kind, el.Label))
	}
	sort.Strings(labels)
	for _, l := range labels {
		h.Write([]byte{0})
		h.Write([]byte(l))
	}
	return h.Sum64()
}
