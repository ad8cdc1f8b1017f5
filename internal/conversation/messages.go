// ABOUTME: Reply texts and message builders used by the state machine
// ABOUTME: Each builder returns the messages plus a plain-text fallback

package conversation

import (
	"fmt"
	"strings"

	"github.com/2389/courier/internal/line"
)

// Sticker package and IDs used in replies.
var (
	stickerWelcomeBack   = line.NewSticker("11537", "52002734")
	stickerWelcome       = line.NewSticker("11537", "52002739")
	stickerNameTaken     = line.NewSticker("11537", "52002753")
	stickerRegistered    = line.NewSticker("446", "1989")
	stickerRelayCancel   = line.NewSticker("446", "2018")
	stickerCancel        = line.NewSticker("11537", "52002741")
	stickerNothingCancel = line.NewSticker("446", "2010")
	stickerRegister      = line.NewSticker("446", "1998")
	stickerRegisterTap   = line.NewSticker("11537", "52002749")
	stickerNoUsers       = line.NewSticker("11537", "52002748")
	stickerBadChoice     = line.NewSticker("11537", "52002744")
)

const (
	textRegisterPrompt  = "Please enter your name to register or rename:"
	textWelcome         = "Welcome! Please enter your name to register:"
	textNameTaken       = "Sorry, that name is already taken.\nPlease enter a different name:"
	textNameBlank       = "Your name cannot be empty. Please enter your name:"
	textRegisterCancel  = "Registration cancelled."
	textRelayCancel     = "Message sending cancelled."
	textNothingToCancel = "There is no operation in progress to cancel."
	textNoOtherUsers    = "There are no other registered users to message right now."
	textSendFirst       = "Please type 'send' first to start sending a message."
	textBadNumber       = "Please enter a valid number, or type 'cancel' to cancel."
	textBadButton       = "Invalid choice. Please choose a recipient again, or type 'cancel' to cancel."
	textNoIntro         = "No introduction link is configured."
	textInternalError   = "Sorry, something went wrong while handling your message. Please try again later."
	textMenuFallback    = "Commands: send (message another user), intro, register (rename), cancel"
)

// maxPickerButtons leaves one template action for cancel.
const maxPickerButtons = line.MaxTemplateActions - 1

// Template label limit on the platform.
const maxLabelRunes = 20

// response is one reply plus the text sent instead if the reply fails.
type response struct {
	messages []line.Message
	fallback string
}

func text(s string, extra ...line.Message) response {
	return response{messages: append([]line.Message{line.NewText(s)}, extra...)}
}

func welcomeBack(name string) response {
	return text(fmt.Sprintf("Welcome back, %s!", name), stickerWelcomeBack)
}

func registered(name string) response {
	return text(fmt.Sprintf("%s! You are now registered.", name), stickerRegistered)
}

func badRange(n int) response {
	return text(fmt.Sprintf("Invalid choice. Please enter a number between 1 and %d, or type 'cancel' to cancel.", n))
}

func askMessage(recipient string) response {
	return text(fmt.Sprintf("Please enter the message you want to send to %s:", recipient))
}

func relaySent(recipient string) response {
	return text(fmt.Sprintf("Message sent to %s!", recipient))
}

func relayFailed(err error) response {
	return text(fmt.Sprintf("Failed to send message: %v", err))
}

func echo(name, said string) response {
	return text(fmt.Sprintf("Hello %s! You said: %s", name, said))
}

// relayBody is what the recipient of a relayed message sees.
func relayBody(sender, body string) string {
	return fmt.Sprintf("Message from %s:\n\n%s", sender, body)
}

func registerPrompt() response {
	return response{
		messages: []line.Message{line.NewButtons(
			"You are not registered yet",
			"You are not registered yet!",
			"Tap the button below to register and unlock every feature.",
			line.PostbackAction("Register", "register", "I want to register"),
		)},
		fallback: "You are not registered yet! Type 'register' to register.",
	}
}

func introLink(url string) response {
	return response{
		messages: []line.Message{
			line.NewText("Tap the button below to visit our website:"),
			line.NewButtons("Website link", "Introduction", "Tap below to open the website",
				line.URIAction("Open website", url)),
		},
		fallback: "Visit our website: " + url,
	}
}

func menu(name, introURL string) response {
	actions := []line.Action{line.MessageAction("Send message", "send")}
	if introURL != "" {
		actions = append(actions, line.URIAction("Introduction", introURL))
	}
	actions = append(actions, line.MessageAction("Rename", "register"))

	return response{
		messages: []line.Message{line.NewButtons("Function menu", truncate(name, 40), "Choose a function:", actions...)},
		fallback: textMenuFallback,
	}
}

// candidateList is the numbered recipient list, 1-based.
func candidateList(candidates []Candidate) string {
	var b strings.Builder
	b.WriteString("Enter the number of the user you want to message:\n\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "   %d. %s\n", i+1, c.Name)
	}
	b.WriteString("\n(Type just the number, or 'cancel' to stop)")
	return b.String()
}

// recipientPicker offers buttons when the candidates fit in one template and
// the numbered list otherwise. Buttons post back the 0-based index.
func recipientPicker(candidates []Candidate, buttons bool) response {
	list := candidateList(candidates)
	if !buttons || len(candidates) > maxPickerButtons {
		return text(list)
	}

	actions := make([]line.Action, 0, len(candidates)+1)
	for i, c := range candidates {
		actions = append(actions, line.PostbackAction(
			truncate(c.Name, maxLabelRunes),
			fmt.Sprintf("%s%d", recipientPrefix, i),
			"Send a message to "+c.Name,
		))
	}
	actions = append(actions, line.MessageAction("Cancel", "cancel"))

	return response{
		messages: []line.Message{line.NewButtons("Choose a recipient", "Choose a recipient", "Who should receive your message?", actions...)},
		fallback: list,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
