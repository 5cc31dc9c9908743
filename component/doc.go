// Package component defines the lifecycle contract shared by discovery
// sources and the discovery manager.
//
// # Interfaces
//
//   - Component: Start/Stop/Health lifecycle
//   - Describable: one-line description logged on start
//
// A Registry starts components in registration order and stops them in
// reverse.
package component
