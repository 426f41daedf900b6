package recipient

import "strings"

const (
	// GroupSuffix is the group-domain suffix of the underlying chat network.
	// An identifier is a group iff it carries this suffix; everything else
	// non-empty is treated as a phone number.
	GroupSuffix = "@g.us"

	// PhoneSuffix is the user-domain suffix. Callers sometimes pass full
	// JIDs for phones; the suffix is stripped before formatting and
	// restored when the wire identifier is built.
	PhoneSuffix = "@c.us"
)

// Kind discriminates the two recipient classes.
type Kind int

const (
	KindPhone Kind = iota
	KindGroup
)

func (k Kind) String() string {
	if k == KindGroup {
		return "group"
	}
	return "phone"
}

// Recipient is a classified, normalized delivery target.
//
// For phones, Value is the formatted number (leading '+'); Invalid marks
// entries that failed validation and were substituted with the fallback
// number. For groups, Value is the raw group identifier including suffix.
type Recipient struct {
	Kind    Kind
	Value   string
	Invalid bool
}

// JID returns the identifier format the underlying send capability expects.
func (r Recipient) JID() string {
	if r.Kind == KindGroup {
		return r.Value
	}
	return strings.TrimPrefix(r.Value, "+") + PhoneSuffix
}

// Set is the partition of a normalized recipient list.
type Set struct {
	Phones []Recipient
	Groups []Recipient
}

// All returns phones followed by groups, for pathways that fan out over
// the union.
func (s Set) All() []Recipient {
	out := make([]Recipient, 0, len(s.Phones)+len(s.Groups))
	out = append(out, s.Phones...)
	out = append(out, s.Groups...)
	return out
}

func (s Set) Size() int { return len(s.Phones) + len(s.Groups) }

// Classify partitions a normalized recipient list into phones and groups
// and runs every phone through the formatting pipeline. fallback is the
// substitute number used for phones that fail validation.
//
// Every input entry lands in exactly one partition; |Phones|+|Groups|
// always equals the input length.
func Classify(raw []string, fallback string) Set {
	var set Set
	for _, id := range raw {
		if strings.HasSuffix(id, GroupSuffix) {
			set.Groups = append(set.Groups, Recipient{Kind: KindGroup, Value: id})
			continue
		}
		num := strings.TrimSuffix(id, PhoneSuffix)
		formatted, ok := FormatPhone(num, fallback)
		set.Phones = append(set.Phones, Recipient{Kind: KindPhone, Value: formatted, Invalid: !ok})
	}
	return set
}
