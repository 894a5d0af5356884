package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

const (
	NotificationPageCreated = "page_created"
	NotificationPageSaved   = "page_saved"
)

// ChangeNotification is the hub message announcing a page write. It carries no content; clients re-fetch the page.
type ChangeNotification struct {
	Type   string    `json:"type"`
	PageID uuid.UUID `json:"page_id"`
	Title  string    `json:"title"`
}

func (n ChangeNotification) String() string {
	raw, _ := json.Marshal(n)
	return string(raw)
}

// ParseChangeNotification reports false for any message that is not a change notification, such as relayed client
// text.
func ParseChangeNotification(msg string) (ChangeNotification, bool) {
	var n ChangeNotification
	if err := json.Unmarshal([]byte(msg), &n); err != nil || n.Type == "" || n.PageID == uuid.Nil {
		return ChangeNotification{}, false
	}
	return n, true
}
