package chat

import (
	"encoding/json"
	"strings"

	v1 "github.com/Coding-Lml/love-space/shared/contracts/chat/v1"
)

// ComposeText frames a text message. It reports false when content is blank.
func ComposeText(content string) (v1.TextFrame, bool) {
	text := strings.TrimSpace(content)
	if text == "" {
		return v1.TextFrame{}, false
	}
	return v1.TextFrame{Type: v1.TypeText, Content: text}, true
}

// ComposeMedia frames a media message. It reports false when kind or mediaURL is blank
// or extra is not valid JSON. An empty extra is sent as null.
func ComposeMedia(kind, mediaURL string, extra json.RawMessage) (v1.MediaFrame, bool) {
	kind = strings.TrimSpace(kind)
	if kind == "" || kind == v1.TypeText || kind == v1.TypeAuth {
		return v1.MediaFrame{}, false
	}
	if strings.TrimSpace(mediaURL) == "" {
		return v1.MediaFrame{}, false
	}
	if len(extra) == 0 {
		extra = nil
	} else if !json.Valid(extra) {
		return v1.MediaFrame{}, false
	}
	return v1.MediaFrame{Type: kind, MediaURL: mediaURL, Extra: extra}, true
}
