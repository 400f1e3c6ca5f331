//go:build !darwin

package keystore

// NewSystemStore returns a MemoryStore on non-darwin platforms.
// The macOS Keychain is not available outside of macOS; records are
// kept in memory only and will not persist across restarts.
func NewSystemStore(v Validator) Store {
	return NewMemoryStore(v)
}
