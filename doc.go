// Package auth keeps a student's identity and preferences consistent between
// the authentication provider, the document store and the local device.
//
// Sign up:
//   - AuthSessionManager creates the provider account, sets display metadata,
//     claims a signup ordinal through SignupOrdinalAllocator and writes the
//     profile record. Any failure after the account exists rolls the signup
//     back so no orphan account remains.
//   - Ordinals are dense and unique. The first DefaultFounderCapacity signups
//     (configurable) are recorded in the early user registry in the same
//     transaction. Contended transactions are retried with jittered backoff.
//
// Sessions:
//   - The session state machine moves between signed_out, authenticating,
//     link_pending and signed_in. Every transition is reported to the
//     configured ActivitySink on a best effort basis.
//   - TokenService issues short lived session credentials bound to the
//     principal. RefreshSession slides the expiry forward.
//
// Preferences:
//   - PreferenceSyncEngine writes user changes locally first and pushes them
//     to the profile record. Changes made while a push is in flight are
//     coalesced into the next push. The local cache always holds the last
//     value the user chose.
//
// Storage and providers live in subpackages: repository (memory and Bun
// document stores), localcache (memory and Redis caches), provider/local
// (a Bun backed AuthProvider) and social (federated sign in).
package auth
