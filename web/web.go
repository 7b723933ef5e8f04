// Package web bundles the static overlay assets into the binary.
package web

import "embed"

//go:embed static
var StaticFiles embed.FS
