// Package schemas holds the JSON Schemas that generation responses must satisfy.
package schemas

import "embed"

// FS contains every *.schema.json file in this directory.
//
//go:embed *.schema.json
var FS embed.FS
