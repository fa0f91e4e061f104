// Package cli holds the terminal side of podauth: the interactive prompts
// and notices shown while logging in, table rendering for status output and
// the typed errors commands return.
package cli
