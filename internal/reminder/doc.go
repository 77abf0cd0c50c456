// Package reminder keeps one daily digest job per user in step with the
// row store.
//
// Reschedule is the only writer of reminder jobs: it cancels the user's
// job, rebuilds the reminder set from fresh rows and registers a new job
// when the set is non-empty. Calls for the same user are serialized. The
// periodic sweep and the mutation triggers all funnel into it.
//
// A job's payload is a snapshot taken at scheduling time. When the job
// fires the digest is rendered from that snapshot and sent once; a failed
// send is logged and the job stays registered for the next day.
package reminder
