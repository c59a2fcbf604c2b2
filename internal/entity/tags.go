package entity

import (
	"encoding/json"
)

// TagSet is an ordered set of transaction tags. Order of first occurrence is
// preserved and duplicates are dropped.
type TagSet struct {
	items []string
}

func NewTagSet(tags ...string) TagSet {
	var t TagSet
	for _, tag := range tags {
		t = t.add(tag)
	}
	return t
}

func (t TagSet) add(tag string) TagSet {
	if tag == "" || t.Contains(tag) {
		return t
	}
	items := make([]string, len(t.items), len(t.items)+1)
	copy(items, t.items)
	return TagSet{items: append(items, tag)}
}

// With returns a copy of t with tag appended when it is not already present.
func (t TagSet) With(tag string) TagSet {
	return t.add(tag)
}

func (t TagSet) Contains(tag string) bool {
	for _, v := range t.items {
		if v == tag {
			return true
		}
	}
	return false
}

func (t TagSet) Len() int { return len(t.items) }

// Values returns the tags in order. The slice is never nil.
func (t TagSet) Values() []string {
	out := make([]string, len(t.items))
	copy(out, t.items)
	return out
}

func (t TagSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Values())
}

func (t *TagSet) UnmarshalJSON(b []byte) error {
	var raw []string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*t = NewTagSet(raw...)
	return nil
}
