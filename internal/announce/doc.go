// Package announce stores broadcast announcements and delivers them.
//
// # Store
//
// At most one announcement is active at a time. It lives in a single JSON
// file:
//
//	{
//	    "message_id": "...",
//	    "content": "...",
//	    "sent_at": 1700000000000,
//	    "recipients": [{"user_id": "U1", "name": "Alice", "status": "pending"}]
//	}
//
// The file is produced either by Store.Create (the admin API) or by an
// external process dropping it in place. A malformed file is treated as
// absent; once two consecutive loads see the same malformed bytes it is
// renamed to <file>.corrupt-<unix>. Once every recipient is sent,
// the record is written to the history directory as
// announcement_YYYYMMDD_HHMMSS.json (from sent_at, local time) and the
// active file is removed.
//
// # Delivery
//
// Deliverer.Run wakes every interval (5s by default) and runs one cycle:
// load, push to each pending recipient, save, archive when complete. A push
// failure leaves the recipient pending for the next cycle, so delivery is
// at-least-once with unbounded retry. A failed cycle backs off (10s by
// default) and the loop carries on; it only stops when its context is
// cancelled.
//
// Recipient status only ever moves from pending to sent.
package announce
