// Package names persists operator-assigned display names for mixer
// buses and input channels.
//
// Custom names only take effect when use_custom is set and the mixer has
// not reported a name of its own; the precedence lives in the mixer
// package. This package is the SQLite-backed mixer.NameStore plus the
// boot-time YAML seed loader.
package names
