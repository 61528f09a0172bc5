// Package auth provides authentication and authorisation for XR Monitor.
//
// Two roles exist. Admins operate every bus, the bus masters and the
// administrative routes. Regular users (typically one musician per
// monitor mix) see only the buses granted to them in user_buses; a
// regular user with no grants cannot see any bus.
//
// Passwords are hashed with Argon2id. Sessions are stateless HS256 JWTs
// validated by signature alone, so the WebSocket upgrade and every REST
// call authenticate without a database hit.
package auth
