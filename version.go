package main

import (
	"github.com/hashicorp/go-version"
)

// currentSchemaVersion is bumped whenever a config field's meaning
// changes in a way old config files should be warned about.
const currentSchemaVersion = "1.0.0"

// parseSchemaVersion wraps hashicorp/go-version so config.go can do a
// semantic (not lexical) comparison between a config file's declared
// schema_version and the binary's.
func parseSchemaVersion(v string) (*version.Version, error) {
	return version.NewVersion(v)
}
