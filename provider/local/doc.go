// Package local is a self hosted AuthProvider for go-campus-auth.
//
// A Backend owns the account tables and is shared by every client context.
// Each client context gets its own Client, which tracks the signed in
// principal and emits principal changed events to the session manager.
package local
