// ABOUTME: Outbound message model for the LINE Messaging API
// ABOUTME: Text, sticker and buttons-template messages plus their actions

package line

// MessageType identifies the kind of outbound message.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeSticker  MessageType = "sticker"
	MessageTypeTemplate MessageType = "template"
)

// ActionType identifies what a button does when tapped.
type ActionType string

const (
	ActionPostback ActionType = "postback" // sends Data back as a postback event
	ActionMessage  ActionType = "message"  // makes the user send Text
	ActionURI      ActionType = "uri"      // opens URI
)

// Message is one outbound message. Only the fields relevant to Type are set.
type Message struct {
	Type      MessageType `json:"type"`
	Text      string      `json:"text,omitempty"`
	PackageID string      `json:"packageId,omitempty"`
	StickerID string      `json:"stickerId,omitempty"`
	AltText   string      `json:"altText,omitempty"`
	Template  *Template   `json:"template,omitempty"`
}

// Template is a buttons template: optional title, body text, up to four actions.
type Template struct {
	Type    string   `json:"type"`
	Title   string   `json:"title,omitempty"`
	Text    string   `json:"text"`
	Actions []Action `json:"actions"`
}

// Action is a button action.
type Action struct {
	Type        ActionType `json:"type"`
	Label       string     `json:"label"`
	Data        string     `json:"data,omitempty"`
	DisplayText string     `json:"displayText,omitempty"`
	Text        string     `json:"text,omitempty"`
	URI         string     `json:"uri,omitempty"`
}

// MaxTemplateActions is the platform limit on actions per buttons template.
const MaxTemplateActions = 4

// NewText returns a text message.
func NewText(text string) Message {
	return Message{Type: MessageTypeText, Text: text}
}

// NewSticker returns a sticker message.
func NewSticker(packageID, stickerID string) Message {
	return Message{Type: MessageTypeSticker, PackageID: packageID, StickerID: stickerID}
}

// NewButtons returns a buttons template message. altText is what clients that
// cannot render templates show instead.
func NewButtons(altText, title, text string, actions ...Action) Message {
	return Message{
		Type:    MessageTypeTemplate,
		AltText: altText,
		Template: &Template{
			Type:    "buttons",
			Title:   title,
			Text:    text,
			Actions: actions,
		},
	}
}

// PostbackAction returns a button that sends data as a postback and shows
// displayText in the chat as if the user typed it.
func PostbackAction(label, data, displayText string) Action {
	return Action{Type: ActionPostback, Label: label, Data: data, DisplayText: displayText}
}

// MessageAction returns a button that makes the user send text.
func MessageAction(label, text string) Action {
	return Action{Type: ActionMessage, Label: label, Text: text}
}

// URIAction returns a button that opens uri.
func URIAction(label, uri string) Action {
	return Action{Type: ActionURI, Label: label, URI: uri}
}

// IsRich reports whether any message needs template rendering. Callers use it
// to decide whether a plain-text fallback is worth attempting.
func IsRich(msgs []Message) bool {
	for _, m := range msgs {
		if m.Type == MessageTypeTemplate {
			return true
		}
	}
	return false
}
