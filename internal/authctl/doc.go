// Package authctl implements the authkeeper operator command line.
//
// Local commands work directly against the server's database and key
// directories:
//
//	keys list       show verifiable signing keys
//	keys rotate     generate a new signing key now
//	keys prune      delete keys past their verification window
//	verify-token    check an access token offline
//	hash-password   print a bcrypt hash for a password read from the terminal
//
// Remote commands talk to a running server over gRPC:
//
//	jwks            print the server's JSON Web Key Set
//	login           log in and print the issued credentials
//	introspect      show the claims the server sees in an access token
package authctl
