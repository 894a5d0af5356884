// Package model holds the page and block types shared by the store, the http api and the realtime notifications.
package model

import (
	"github.com/google/uuid"
)

// Page is a titled document node. ParentID is nil for a root page.
type Page struct {
	ID       uuid.UUID  `json:"id"`
	Title    string     `json:"title"`
	ParentID *uuid.UUID `json:"parent_id"`
}

// NewPage returns a root page with a freshly generated id.
func NewPage(title string) Page {
	return Page{ID: uuid.New(), Title: title}
}

// NewChildPage returns a page nested under parent with a freshly generated id.
func NewChildPage(title string, parent uuid.UUID) Page {
	p := NewPage(title)
	p.ParentID = &parent
	return p
}

// IsRoot reports whether the page has no parent.
func (p Page) IsRoot() bool {
	return p.ParentID == nil
}

// PageWithBlocks is the page-scoped read shape: the page metadata flattened next to its blocks.
type PageWithBlocks struct {
	Page
	Blocks []Block `json:"blocks"`
}
