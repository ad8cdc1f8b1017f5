// Package line is the messaging gateway: it talks to the LINE Messaging API.
//
// Outbound, Client sends reply messages (answering an inbound event with its
// one-shot reply token) and push messages (to any user at any time). Pushes
// are rate limited on the client side and carry an X-Line-Retry-Key.
//
// Inbound, ParseWebhook verifies the X-Line-Signature header (base64
// HMAC-SHA256 of the raw body keyed by the channel secret) and decodes the
// events array.
//
// Only the message shapes the bot needs are modelled: text, sticker and the
// buttons template with postback, message and uri actions.
package line
