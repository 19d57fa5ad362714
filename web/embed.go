// Package web embeds the skin assets and the HTML templates of the server.
package web

import "embed"

// FS holds skin/ and templates/.
//
//go:embed skin templates
var FS embed.FS
