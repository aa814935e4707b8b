// Package schemas embeds the JSON Schema documents shipped with the archiver.
package schemas

import _ "embed"

// ConfigSchema is the JSON Schema of configuration files, profiles included.
//
//go:embed config.schema.json
var ConfigSchema string
