//go:build !unix

package keystore

// lockFile is a no-op where flock is unavailable. Writers within one
// process are still serialized by FileStore's mutex.
func lockFile(string) (func(), error) {
	return func() {}, nil
}
