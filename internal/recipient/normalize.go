package recipient

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RawRequest carries the recipient fields of an inbound message request
// before normalization. Legacy callers use any mix of these; each field
// accepts a single string or a list of strings.
type RawRequest struct {
	Recipients StringList
	To         StringList
	Phone      StringList
	Group      StringList
}

// UnmarshalJSON accepts both snake_case and camelCase legacy key spellings.
func (r *RawRequest) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	take := func(dst *StringList, keys ...string) error {
		for _, k := range keys {
			raw, ok := m[k]
			if !ok {
				continue
			}
			var sl StringList
			if err := json.Unmarshal(raw, &sl); err != nil {
				return fmt.Errorf("field %q: %w", k, err)
			}
			*dst = append(*dst, sl...)
		}
		return nil
	}
	out := RawRequest{}
	if err := take(&out.Recipients, "recipients"); err != nil {
		return err
	}
	if err := take(&out.To, "to"); err != nil {
		return err
	}
	if err := take(&out.Phone, "phoneNumber", "phone_number"); err != nil {
		return err
	}
	if err := take(&out.Group, "groupId", "group_id"); err != nil {
		return err
	}
	*r = out
	return nil
}

// StringList decodes either a JSON string or an array of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if strings.HasPrefix(s, "[") {
		var arr []string
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		*l = arr
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*l = StringList{one}
	return nil
}

// Normalize merges every recipient field into one ordered slice, trimming
// whitespace, skipping empties, and removing exact-string duplicates
// (case-sensitive). Insertion order is preserved so the result is
// deterministic for a given request. No phone validation happens here.
func Normalize(req RawRequest) []string {
	merged := make([]string, 0, len(req.Recipients)+len(req.To)+len(req.Phone)+len(req.Group))
	seen := make(map[string]struct{})
	add := func(vals []string) {
		for _, v := range vals {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			merged = append(merged, v)
		}
	}
	add(req.Recipients)
	add(req.To)
	add(req.Phone)
	add(req.Group)
	return merged
}
