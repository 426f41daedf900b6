package route

import "strings"

// Attachment is a single binary payload attached to a message request.
type Attachment struct {
	MimeType string
	Data     []byte
	Filename string
	Size     int64
}

// MediaClass buckets attachments by mime-type prefix. Anything that is not
// image/*, video/* or audio/* ships as a document.
type MediaClass int

const (
	MediaImage MediaClass = iota
	MediaVideo
	MediaAudio
	MediaDocument
)

func (c MediaClass) String() string {
	switch c {
	case MediaImage:
		return "image"
	case MediaVideo:
		return "video"
	case MediaAudio:
		return "audio"
	default:
		return "document"
	}
}

// ClassifyMime maps a mime type to its media class.
func ClassifyMime(mime string) MediaClass {
	m := strings.ToLower(strings.TrimSpace(mime))
	switch {
	case strings.HasPrefix(m, "image/"):
		return MediaImage
	case strings.HasPrefix(m, "video/"):
		return MediaVideo
	case strings.HasPrefix(m, "audio/"):
		return MediaAudio
	default:
		return MediaDocument
	}
}

// IsVoiceNote reports whether an audio attachment should be flagged as a
// voice note (push-to-talk) rather than a plain audio file.
func IsVoiceNote(mime string) bool {
	m := strings.ToLower(strings.TrimSpace(mime))
	return strings.HasPrefix(m, "audio/ogg") || strings.HasPrefix(m, "audio/opus")
}
