package audit

import (
	"encoding/json"
	"time"
)

// Entry is one audit_logs row. Meta carries the action-specific payload, for
// role reassignments the resulting role list.
type Entry struct {
	ID         int64
	ActorID    string
	Action     string
	Entity     string
	EntityID   string
	Meta       json.RawMessage
	OccurredAt time.Time
}

// TimelineFilters narrows the audit timeline. Zero values mean no filter.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	Actor    string
	Entity   string
	Action   string
	Page     int
	PageSize int
}

// PagingInfo carries cursor-less paging metadata for the timeline listing.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// Result bundles one timeline page with its paging metadata.
type Result struct {
	Entries []Entry
	Paging  PagingInfo
}
