// Package config loads the tickd configuration from JSON or YAML, validates
// it and republishes it when the file changes on disk.
package config
