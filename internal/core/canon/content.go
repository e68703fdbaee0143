package canon

import "encoding/json"

// Content kinds recorded in the derived annotations when the payload is
// not plain text
const (
	ContentKindText     = "text"
	ContentKindImage    = "image"
	ContentKindVideo    = "video"
	ContentKindAudio    = "audio"
	ContentKindDocument = "document"
	ContentKindSticker  = "sticker"
	ContentKindLocation = "location"
	ContentKindUnknown  = "unknown"
)

// contentShape models the possible text-bearing sub-shapes of a provider
// payload. Media shapes are pointers so bare presence still maps to a typed
// placeholder; only the fields extraction reads are declared
type contentShape struct {
	Conversation string `json:"conversation"`

	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`

	ImageMessage *struct {
		Caption string `json:"caption"`
	} `json:"imageMessage"`

	VideoMessage *struct {
		Caption string `json:"caption"`
	} `json:"videoMessage"`

	DocumentMessage *struct {
		Caption  string `json:"caption"`
		FileName string `json:"fileName"`
	} `json:"documentMessage"`

	AudioMessage   *struct{} `json:"audioMessage"`
	StickerMessage *struct{} `json:"stickerMessage"`

	LocationMessage *struct {
		Name string `json:"name"`
	} `json:"locationMessage"`

	ContextInfo struct {
		StanzaID string `json:"stanzaId"`
	} `json:"contextInfo"`
}

// ExtractContent picks message text out of a provider payload with a fixed
// precedence: plain body, extended-text body, media caption, then a typed
// placeholder. Pure and total: a malformed payload yields the unknown
// placeholder, never an error. It also surfaces the reply-to stanza id when
// the payload carries one
func ExtractContent(payload json.RawMessage) (text, kind, replyTo string) {
	if len(payload) == 0 {
		return placeholder(ContentKindUnknown), ContentKindUnknown, ""
	}

	var c contentShape
	if err := json.Unmarshal(payload, &c); err != nil {
		return placeholder(ContentKindUnknown), ContentKindUnknown, ""
	}
	replyTo = c.ContextInfo.StanzaID

	switch {
	case c.Conversation != "":
		return c.Conversation, ContentKindText, replyTo
	case c.ExtendedTextMessage != nil && c.ExtendedTextMessage.Text != "":
		return c.ExtendedTextMessage.Text, ContentKindText, replyTo
	case c.ImageMessage != nil && c.ImageMessage.Caption != "":
		return c.ImageMessage.Caption, ContentKindImage, replyTo
	case c.VideoMessage != nil && c.VideoMessage.Caption != "":
		return c.VideoMessage.Caption, ContentKindVideo, replyTo
	case c.DocumentMessage != nil && c.DocumentMessage.Caption != "":
		return c.DocumentMessage.Caption, ContentKindDocument, replyTo
	case c.DocumentMessage != nil && c.DocumentMessage.FileName != "":
		return c.DocumentMessage.FileName, ContentKindDocument, replyTo
	case c.ImageMessage != nil:
		return placeholder(ContentKindImage), ContentKindImage, replyTo
	case c.VideoMessage != nil:
		return placeholder(ContentKindVideo), ContentKindVideo, replyTo
	case c.DocumentMessage != nil:
		return placeholder(ContentKindDocument), ContentKindDocument, replyTo
	case c.LocationMessage != nil && c.LocationMessage.Name != "":
		return c.LocationMessage.Name, ContentKindLocation, replyTo
	case c.LocationMessage != nil:
		return placeholder(ContentKindLocation), ContentKindLocation, replyTo
	case c.AudioMessage != nil:
		return placeholder(ContentKindAudio), ContentKindAudio, replyTo
	case c.StickerMessage != nil:
		return placeholder(ContentKindSticker), ContentKindSticker, replyTo
	}
	return placeholder(ContentKindUnknown), ContentKindUnknown, replyTo
}

func placeholder(kind string) string { return "[" + kind + "]" }
