// Package notifier delivers reminder digests to users.
//
// Sends go through a token bucket shared by all callers, are retried with
// jittered exponential backoff, and identical texts to the same user are
// suppressed inside a dedup window so a job that fires twice does not
// message the user twice.
//
// Delivery itself is delegated to a Sender (the Telegram transport in
// production, LogSender for dry runs).
package notifier
