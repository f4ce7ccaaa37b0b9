package marketdata

import "net/http"

// BearerAuthorizer attaches a static bearer token to every outgoing
// request — broker authentication specifics are out of scope);
// this is the minimal pluggable default paper/live wiring needs.
type BearerAuthorizer struct {
	Token string
}

// Authorize sets the Authorization header to "Bearer <token>".
func (a BearerAuthorizer) Authorize(req *http.Request) {
	if a.Token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
}
