// Package conversation implements the bot's per-user conversation flows.
//
// # State
//
// Each user has at most one State, held in a StateStore:
//
//   - AwaitingName: the bot asked for a registration name
//   - Forwarding: the user is relaying a message, either choosing a
//     recipient (AwaitingRecipient) or typing the message (AwaitingMessage)
//
// The default MemoryStateStore lives in process memory. A restart forgets
// every flow in progress, and abandoned flows never expire.
//
// # Dispatch
//
// Inbound text is resolved once into a Command by ParseCommand. Then, first
// match wins:
//
//  1. AwaitingName: cancel clears the flow, anything else is the name
//  2. Forwarding: cancel clears the flow, otherwise the stage consumes the text
//  3. cancel: nothing to cancel
//  4. register: ask for a name
//  5. intro: website link
//  6. send: snapshot the other users and ask for a recipient
//  7. func_list: function menu
//  8. anything else: echo
//
// Everything past step 4 requires registration and answers unregistered
// users with the registration prompt.
//
// Postbacks (HandleAction) carry "recipient_<i>" (0-based index into the
// candidate snapshot), "register", "send" or "menu".
//
// # Delivery
//
// Replies are best effort. A failed reply is logged and, when a simpler
// plain-text version exists, retried once with that. Nothing is returned to
// the caller. Relayed messages are pushed once; a failed push is reported to
// the sender and the flow ends either way.
package conversation
