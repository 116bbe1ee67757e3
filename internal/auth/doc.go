// Package auth authenticates bearer credentials and defines the external
// decisions the server relies on before attaching a client to a session.
//
// Credentials:
//   - JWTManager: EdDSA tokens signed with a key derived from AUTH_SECRET
//   - StaticKeys: "user_id:secret" pairs checked against bcrypt hashes
//   - Chain: first verifier that accepts wins
//
// Directory, Authorizer and Entitlements are implemented by the store
// package; Gate strings them together in the order the real-time endpoint
// needs them.
package auth
