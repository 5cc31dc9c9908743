// Package security holds the TLS section used by the discovery sources
// that talk to a remote registry.
//
//	tlsCfg, err := cfg.TLS.Build() // nil when disabled
package security
