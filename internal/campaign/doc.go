// Package campaign implements campaign lifecycle management and the batch
// send path.
//
// The service layer owns the campaign state machine
// (draft → scheduled → sending → completed | failed | cancelled), drives
// batched dispatch through a mail transport, records every outcome in the
// delivery ledger, and emits progress events. The retrier replays the same
// per-recipient path for previously failed recipients with exponential
// backoff.
//
// The service depends on repository interfaces defined in this package and
// should never import from api/. Repository implementations live in
// repository/postgres/ and in test doubles.
package campaign
