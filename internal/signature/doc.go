// Package signature holds the local detection side of jscryptoscan: the
// signature table, named risk rules, and the Matcher that runs the table
// against a code blob.
//
// A signature table maps category to algorithm to a Signature:
//
//	symmetric:
//	  AES:
//	    patterns: ['CryptoJS\.AES\.(en|de)crypt']
//	asymmetric:
//	  RSA:
//	    patterns: ['JSEncrypt']
//	    risk_rule: weak-rsa-modulus
//
// Patterns are matched case-insensitively. A pattern that fails to compile
// is skipped. The Matcher never touches the network.
package signature
