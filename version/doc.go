// Package version reports build information of registrykit binaries.
//
//	go build -ldflags "-X github.com/kbukum/registrykit/version.Version=1.2.0"
package version
