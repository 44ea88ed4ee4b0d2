// Package scenarios embeds the built-in suite for the animal registration
// system. Credentials come from ${EMAIL} and ${PASSWORD}.
package scenarios

import "embed"

// FS holds the built-in scenario files at its root.
//
//go:embed *.yaml
var FS embed.FS
