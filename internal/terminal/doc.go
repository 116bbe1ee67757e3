// Package terminal owns the shell processes behind each session.
//
// A terminal is identified by a Key (session id plus kind). Two kinds exist:
//   - basic: an interactive shell with a "[Basic]" prompt
//   - assisted: the same shell paired with an assistant sub-session
//
// Lifecycle:
//
//	Uninitialized → Starting → Running → Terminated
//
// States only move forward. A manager spawns its shell once, writes the
// prompt setup once, and keeps pumping output into a scrollback ring and an
// OutputFunc until it is terminated or the shell exits by itself.
//
// The Registry is the only place that creates or destroys managers.
// Connections look terminals up and attach to them; closing a connection
// never kills a shell.
//
// Example Usage:
//
//	reg := terminal.NewRegistry(logger)
//	mgr, created, err := reg.GetOrStart(ctx, terminal.Key{SessionID: sid, Kind: terminal.KindBasic},
//	    func(key terminal.Key) (terminal.Manager, error) {
//	        return terminal.NewPlain(terminal.Options{Key: key, WorkDir: dir, Output: fanout}), nil
//	    })
package terminal
