// session.go - Request identity extraction.
//
// Authentication lives in a fronting collaborator (reverse proxy or
// gateway) which sets X-User-ID and X-User-Admin on every request it has
// verified. The core trusts these headers and performs authorization only.
package api

import (
	"net/http"

	"github.com/warp/fridge-ledger/ledger"
)

const (
	headerUserID = "X-User-ID"
	headerAdmin  = "X-User-Admin"
)

func sessionFrom(r *http.Request) ledger.Session {
	return ledger.Session{
		UserID:  ledger.UserID(r.Header.Get(headerUserID)),
		IsAdmin: r.Header.Get(headerAdmin) == "true",
	}
}
