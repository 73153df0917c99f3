// Package buffer provides the in-memory action buffer.
//
// Manager accumulates actions and writes them to object storage in batches
// through a storage.Uploader.
//
// # Flush Triggers
//
//   - size: AddToBuffer flushes synchronously once the buffer reaches MaxSize
//   - age: FlushOldActions uploads only entries older than MaxAge (driven by the scheduler)
//   - manual: the admin API calls Flush
//   - shutdown: Close performs a final Flush
//
// Flushes are serialized. A size-triggered flush that finds the buffer already
// drained by another flush does nothing.
//
// # Failure Handling
//
// A failed Flush increments retry_count on every event in the batch. Events
// that reach action.RetryCeiling are discarded; of the rest, the first
// RequeueLimit (50 by default) go back to the front of the buffer in their
// original order and the remainder is discarded. Discarded events are counted
// in TotalFailed and handed to the optional LossReporter.
//
// A failed FlushOldActions puts the aged events back untouched.
//
// # Immediate Path
//
// SendImmediately uploads a single uncompressed event. When that upload fails
// the event is buffered with ImmediateFailed set so the next flush retries it.
//
//	mgr := buffer.NewManager(buffer.Config{MaxSize: 100, MaxAge: 5 * time.Minute}, uploader, logger, metrics)
//	res := mgr.AddToBuffer(ctx, event)
//	if res.AutoFlushed && !res.Flush.Success {
//	    logger.Warn("flush failed", "error", res.Flush.Error)
//	}
package buffer
