// Package templates embeds the default configuration and workflow About text.
package templates

import "embed"

//go:embed config.yaml about.md
var FS embed.FS
