// Package storage provides the client-side persistence layer.
//
// It currently backs:
//   - Per-user preference sets (persisted immediately on change)
//   - Flash-dedup suppression state (so a restart inside the window
//     does not replay the same burst)
package storage
