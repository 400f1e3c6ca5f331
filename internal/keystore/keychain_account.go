package keystore

import (
	"net/url"
	"strings"

	"github.com/benaskins/credence/internal/service"
)

// account builds the Keychain account name for a record. Both parts are
// path-escaped so a "/" inside a user ID cannot spill into another user's
// namespace.
func account(userID string, svc service.ID) string {
	return url.PathEscape(userID) + "/" + url.PathEscape(string(svc))
}

// parseAccount reverses account. It reports false for names that were not
// produced by account.
func parseAccount(name string) (string, service.ID, bool) {
	rawUser, rawSvc, ok := strings.Cut(name, "/")
	if !ok || strings.Contains(rawSvc, "/") {
		return "", "", false
	}
	userID, err := url.PathUnescape(rawUser)
	if err != nil {
		return "", "", false
	}
	svc, err := url.PathUnescape(rawSvc)
	if err != nil {
		return "", "", false
	}
	return userID, service.ID(svc), true
}
