// Package notifier is the delivery end of the push pipeline.
//
// Every admitted event is appended to the ledger synchronously, then handed
// to a small worker pool that fans it out to the configured deliverers
// (desktop notification, Telegram relay). Delivery is rate limited and
// retried with jittered exponential backoff; outcomes are published on the
// event bus. A slow or failing deliverer never blocks the stream reader.
package notifier
