// Package main provides the entry point for the jscryptoscan CLI.
//
// jscryptoscan discovers the JavaScript a web page loads, follows redirect
// chains to reach it, and reports the cryptographic algorithms the code uses.
// Local signature matching always runs; remote inference through a
// chat-completions API runs when an API key is configured.
//
// Usage:
//
//	jscryptoscan analyze https://example.com/login
//	jscryptoscan analyze --file bundle.js
//	jscryptoscan history https://example.com/login --compare
//
// See --help for all available options.
package main

// main is the entry point for jscryptoscan.
func main() {
	Execute()
}
