// Package main hosts the gas CLI entrypoint and command graph.
//
// One binary runs every pipeline worker (individually or together), the HTTP
// API, and the operator commands for jobs, dead letters, accounts and
// configuration. Commands open only the collaborators they need; the heavy
// lifting lives in the internal packages.
package main
