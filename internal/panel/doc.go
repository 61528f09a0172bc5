// Package panel serves the XR Monitor web client, the page musicians open
// on a phone or tablet to mix their own monitor bus.
//
// A placeholder build is embedded in the binary with go:embed. Setting
// api.panel_dir serves a real client build from disk instead, which is
// how the bundled frontend is deployed and developed against.
//
// Routes without a file extension fall back to index.html for
// client-side routing. Hashed bundles under assets/ are cached for a
// year; everything else is revalidated on each load.
package panel
