// Package dispatch evaluates due broadcast schedules and drives sends.
//
// The Coordinator's Tick(now) is the single entry point, invoked by an
// external periodic trigger (cron). A tick fetches due schedules, resolves
// their destinations, sends through the credential rotation, appends one
// ledger row per attempt, and advances the fired markers. Delivery is
// at-least-once: a crash between a send and its marker write can cause at
// most one retransmission on the next start.
package dispatch
