package route

import (
	"fmt"

	"wafleet/internal/recipient"
)

// Pathway is the chosen delivery channel for one message request.
type Pathway int

const (
	// PathwayNone means the request had no recipients; nothing fans out.
	PathwayNone Pathway = iota
	PathwayPhone
	PathwayGroup
	PathwayBroadcast
	PathwayImage
	PathwayVideo
	PathwayAudio
	PathwayDocument
)

func (p Pathway) String() string {
	switch p {
	case PathwayPhone:
		return "phone"
	case PathwayGroup:
		return "group"
	case PathwayBroadcast:
		return "broadcast"
	case PathwayImage:
		return "image"
	case PathwayVideo:
		return "video"
	case PathwayAudio:
		return "audio"
	case PathwayDocument:
		return "document"
	default:
		return "none"
	}
}

// Descriptor holds the per-pathway constraints as data, so one generic
// pipeline serves every pathway instead of a hand-written handler per
// media type.
type Descriptor struct {
	MaxSize int64
	// NativeCaption: the body rides on the media message itself. When
	// false and a body is present, the body goes out as a second,
	// separate text message after the file. This asymmetry (documents
	// vs image/video) is observable recipient-facing behavior and is
	// kept deliberately.
	NativeCaption bool
}

const mb = int64(1 << 20)

var descriptors = map[Pathway]Descriptor{
	PathwayImage:    {MaxSize: 16 * mb, NativeCaption: true},
	PathwayVideo:    {MaxSize: 64 * mb, NativeCaption: true},
	PathwayAudio:    {MaxSize: 16 * mb, NativeCaption: false},
	PathwayDocument: {MaxSize: 100 * mb, NativeCaption: false},
}

// DescriptorFor returns the constraints of a media pathway. Text pathways
// have a zero descriptor.
func DescriptorFor(p Pathway) Descriptor { return descriptors[p] }

// Plan is the routed form of a message request, ready for fan-out.
type Plan struct {
	Pathway    Pathway
	Recipients []recipient.Recipient
	Body       string
	Attachment *Attachment

	// Caption rides on the media message when the descriptor allows a
	// native caption; empty when the body is absent.
	Caption string
	// SeparateBody: send Body as a trailing text message after the file.
	SeparateBody bool
	VoiceNote    bool

	Desc Descriptor
}

// Route applies the decision table: attachment type first, then recipient
// mix. It never fans out by itself; it only decides.
func Route(set recipient.Set, body string, att *Attachment) Plan {
	if att != nil {
		return routeMedia(set, body, att)
	}

	phones, groups := len(set.Phones), len(set.Groups)
	switch {
	case phones > 0 && groups > 0:
		return Plan{Pathway: PathwayBroadcast, Recipients: set.All(), Body: body}
	case groups > 0:
		return Plan{Pathway: PathwayGroup, Recipients: set.Groups, Body: body}
	case phones > 0:
		return Plan{Pathway: PathwayPhone, Recipients: set.Phones, Body: body}
	default:
		return Plan{Pathway: PathwayNone}
	}
}

func routeMedia(set recipient.Set, body string, att *Attachment) Plan {
	if set.Size() == 0 {
		return Plan{Pathway: PathwayNone}
	}

	var pathway Pathway
	switch ClassifyMime(att.MimeType) {
	case MediaImage:
		pathway = PathwayImage
	case MediaVideo:
		pathway = PathwayVideo
	case MediaAudio:
		pathway = PathwayAudio
	default:
		pathway = PathwayDocument
	}

	desc := descriptors[pathway]
	plan := Plan{
		Pathway:    pathway,
		Recipients: set.All(),
		Body:       body,
		Attachment: att,
		Desc:       desc,
	}
	if desc.NativeCaption {
		plan.Caption = body
	} else if body != "" {
		plan.SeparateBody = true
	}
	if pathway == PathwayAudio {
		plan.VoiceNote = IsVoiceNote(att.MimeType)
	}
	return plan
}

// Check validates the plan against its descriptor constraints.
func (p Plan) Check() error {
	if p.Attachment == nil || p.Desc.MaxSize == 0 {
		return nil
	}
	if p.Attachment.Size > p.Desc.MaxSize {
		return fmt.Errorf("%s attachment too large: %d bytes (max %d)", p.Pathway, p.Attachment.Size, p.Desc.MaxSize)
	}
	return nil
}
