// Package scheduler registers named jobs and computes when they fire.
//
// Cron and interval triggers come from robfig/cron, one-shot jobs from
// timers. Registration is an upsert by name. A fired job is handed to the
// task engine, which owns execution, retries and timeouts.
package scheduler
