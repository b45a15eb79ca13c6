// Package trigger submits jobs on a schedule (cron or fixed interval).
//
// The trigger service owns no execution: every fire builds a fresh job.Item
// and hands it to the scheduler's sequenced or parallel path.
package trigger
