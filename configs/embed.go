// Package configs provides the embedded configuration template for podrag.
//
// The template is embedded at build time so `podrag config init` works the
// same from a source build and a release binary. Its values mirror
// config.NewConfig; the test in this package keeps the two in sync.
package configs

import _ "embed"

// ConfigTemplate is the commented configuration written by
// `podrag config init`, to .podrag.yaml or, with --user, to
// ~/.config/podrag/config.yaml.
//
//go:embed podrag.example.yaml
var ConfigTemplate string
