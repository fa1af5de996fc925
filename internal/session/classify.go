package session

import (
	"errors"
	"net/http"
	"strings"

	"github.com/nutriplan/client-go/internal/api"
)

// fault is the controller's view of a verification failure.
type fault int

const (
	// faultTransient covers network failures, timeouts, server errors,
	// and anything else the controller should not punish the user for.
	faultTransient fault = iota

	// faultAccountDeleted means the account is confirmed gone.
	faultAccountDeleted

	// faultTokenExpired means the access token is expired or invalid and
	// a refresh attempt is warranted.
	faultTokenExpired
)

// classify maps a verification error to a fault. Deletion signals take
// priority over the 401 family: a deleted account often surfaces as an
// auth failure, and refreshing its token would be pointless.
func classify(err error) fault {
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		return faultTransient
	}

	msg := strings.ToLower(apiErr.Message)

	if apiErr.ErrorType == "account_deleted" ||
		strings.Contains(msg, "account deleted") ||
		strings.Contains(msg, "account has been deleted") ||
		(apiErr.StatusCode == http.StatusNotFound && (strings.Contains(msg, "user") || strings.Contains(msg, "account"))) {
		return faultAccountDeleted
	}

	if (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) &&
		(strings.Contains(msg, "expired") || strings.Contains(msg, "invalid token") || strings.Contains(msg, "invalid jwt")) {
		return faultTokenExpired
	}

	return faultTransient
}
