// Package store persists the records the server consults before attaching a
// client: sessions, their members and each user's plan.
//
// It is backed by SQLite through modernc.org/sqlite (no cgo) and answers the
// auth.Directory, auth.Authorizer and auth.Entitlements questions.
//
// Records get in through ApplySeed, fed from a YAML file at startup, and
// through the owner-facing session routes of the HTTP API.
package store
