package session

import "strings"

// CookieName is the session cookie set at login and read by the gateway.
const CookieName = "backendToken"

type Carrier string

const (
	CarrierNone      Carrier = ""
	CarrierBearer    Carrier = "bearer"
	CarrierCookie    Carrier = "cookie"
	CarrierRawCookie Carrier = "raw_cookie"
)

// Extract picks the credential from the three accepted carriers in priority
// order: Authorization bearer, parsed session cookie, raw Cookie header.
func Extract(authorization, cookie, rawCookieHeader string) (string, Carrier) {
	if strings.HasPrefix(authorization, "Bearer ") {
		if tok := strings.TrimSpace(strings.TrimPrefix(authorization, "Bearer ")); tok != "" {
			return tok, CarrierBearer
		}
	}
	if cookie = strings.TrimSpace(cookie); cookie != "" {
		return cookie, CarrierCookie
	}
	for _, part := range strings.Split(rawCookieHeader, ";") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, CookieName+"="); ok && v != "" {
			return v, CarrierRawCookie
		}
	}
	return "", CarrierNone
}
