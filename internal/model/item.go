package model

import (
	"fmt"
	"sort"
	"time"
)

// Condition is the state an item is listed in.
type Condition string

// Item conditions.
const (
	ConditionNew     Condition = "new"
	ConditionWornOut Condition = "worn-out"
	ConditionDamaged Condition = "damaged"
)

// Conditions lists every condition in display order.
var Conditions = []Condition{ConditionNew, ConditionWornOut, ConditionDamaged}

// ParseCondition returns the condition named by s.
func ParseCondition(s string) (Condition, error) {
	c := Condition(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown condition %q", s)
	}
	return c, nil
}

// Valid reports whether c is one of the known conditions.
func (c Condition) Valid() bool {
	switch c {
	case ConditionNew, ConditionWornOut, ConditionDamaged:
		return true
	}
	return false
}

// Label is the filter label shown for the condition.
func (c Condition) Label() string {
	switch c {
	case ConditionNew:
		return "New"
	case ConditionWornOut:
		return "Donation"
	case ConditionDamaged:
		return "Recycle"
	}
	return string(c)
}

// Suggestion is the sentence shown to an owner about what to do with the item.
func (c Condition) Suggestion() string {
	switch c {
	case ConditionWornOut:
		return "Suitable for donation."
	case ConditionDamaged:
		return "Suitable for recycling."
	}
	return ""
}

// Item is one listed object, stored at items/{userId}/{id}. ID and Owner are
// taken from the path and never stored in the record.
type Item struct {
	ID        string    `json:"-"`
	Owner     string    `json:"-"`
	Name      string    `json:"name"`
	Condition Condition `json:"condition"`
	Type      string    `json:"type"`
	Pic       string    `json:"pic"`
	UserID    string    `json:"userId"`
	Email     string    `json:"email,omitempty"`
	Timestamp string    `json:"timestamp"`
}

// Watchable reports whether the item may be added to a watchlist.
func (i Item) Watchable() bool {
	return i.Condition == ConditionNew
}

// CreatedAt parses the timestamp. Unparseable timestamps yield the zero time.
func (i Item) CreatedAt() time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z", "2006-01-02"} {
		if t, err := time.Parse(layout, i.Timestamp); err == nil {
			return t
		}
	}
	return time.Time{}
}

// SortNewestFirst orders items by creation time, newest first. Items with
// equal timestamps keep their relative order.
func SortNewestFirst(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt().After(items[j].CreatedAt())
	})
}

// Timestamp formats t the way item records store it.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// WatchlistEntry is a copy of an item taken when it was watched, stored at
// watchlist/{watcherId}/{id}.
type WatchlistEntry struct {
	Item
}
