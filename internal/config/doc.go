// Package config provides configuration structures and utilities for
// jscryptoscan: defaults, the YAML configuration file, XDG paths and
// validation.
//
// Values are layered with increasing precedence: built-in defaults, the
// configuration file, environment variables (the inference API key), and
// finally command-line flags.
package config
