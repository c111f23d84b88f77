/*
Package scheduler implements certdeploy's renewal scheduler (C5): a
cron-like trigger that runs the ACME renewal executable on a configured
cadence and logs its outcome.

A Scheduler owns one robfig/cron entry built from renew_unit, renew_every
and the optional renew_at wall-clock time. Firing transitions the
scheduler idle → running → (success|failure) → idle; under fail_fast a
non-zero renewal exit stops the scheduler's owning daemon, not just the
current cycle.

cron's native schedule grammar has no "every N weeks" concept, so a
week-unit schedule fires every week and the Scheduler itself skips N-1 out
of every N fires to approximate the configured interval.
*/
package scheduler
