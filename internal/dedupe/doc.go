// Package dedupe filters repeated webhook events.
//
// The platform may deliver the same event more than once (flagged with
// deliveryContext.isRedelivery). The callback handler passes each event's
// webhookEventId through Filter.Seen and skips those it has already handled
// within the TTL window.
package dedupe
