package recipient

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestNormalizeMergesLegacyFields(t *testing.T) {
	req := RawRequest{
		Recipients: StringList{"+18095551234"},
		To:         StringList{"123456789@g.us", "+18095551234"},
		Phone:      StringList{"18295600987"},
		Group:      StringList{"123456789@g.us"},
	}
	got := Normalize(req)
	want := []string{"+18095551234", "123456789@g.us", "18295600987"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Normalize = %v, want %v", got, want)
	}
}

func TestNormalizeDedupExact(t *testing.T) {
	req := RawRequest{To: StringList{"+18095551234", "+18095551234"}}
	got := Normalize(req)
	if len(got) != 1 || got[0] != "+18095551234" {
		t.Fatalf("expected single deduplicated entry, got %v", got)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	first := Normalize(RawRequest{
		To:    StringList{"+15551234567", "  123456@g.us "},
		Phone: StringList{"+15551234567"},
	})
	second := Normalize(RawRequest{Recipients: first})
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("normalization not idempotent: %v then %v", first, second)
	}
}

func TestNormalizeSkipsEmpties(t *testing.T) {
	got := Normalize(RawRequest{To: StringList{"", "   ", "+15551234567"}})
	if len(got) != 1 {
		t.Fatalf("expected empties dropped, got %v", got)
	}
}

func TestRawRequestUnmarshalShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
		want []string
	}{
		{"unified list", `{"recipients":["a","b"]}`, []string{"a", "b"}},
		{"to single", `{"to":"+15551234567"}`, []string{"+15551234567"}},
		{"phone camel", `{"phoneNumber":"18295600987"}`, []string{"18295600987"}},
		{"phone snake", `{"phone_number":["18295600987"]}`, []string{"18295600987"}},
		{"group camel", `{"groupId":"123@g.us"}`, []string{"123@g.us"}},
		{"group snake", `{"group_id":"123@g.us"}`, []string{"123@g.us"}},
		{"mixed", `{"to":["x"],"phoneNumber":"y","group_id":"z@g.us"}`, []string{"x", "y", "z@g.us"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var req RawRequest
			if err := json.Unmarshal([]byte(tc.body), &req); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			got := Normalize(req)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Normalize = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRawRequestRejectsBadShape(t *testing.T) {
	var req RawRequest
	if err := json.Unmarshal([]byte(`{"to":42}`), &req); err == nil {
		t.Fatalf("expected error for numeric recipient field")
	}
}
