// Package action defines the user-action event model.
//
// # Lifecycle
//
// An Event is built by the ingestion adapter from a client payload and enriched
// with server-assigned fields (action id, server timestamp, request id, client IP).
//
// Buffered events are wrapped in a BufferedEvent that records when the event
// entered the buffer and how many flush attempts have failed for it:
//
//	be := action.BufferedEvent{
//	    Event:            ev,
//	    BufferID:         ids.BufferID(),
//	    BufferReceivedAt: time.Now(),
//	}
//
// Once RetryCount reaches RetryCeiling the event is discarded by the buffer
// manager and reported as lost.
//
// # Envelope
//
// Every uploaded batch is persisted as one Envelope:
//
//	{"batch_id": "...", "upload_timestamp": "...", "count": 2,
//	 "server_info": {...}, "events": [...]}
package action
