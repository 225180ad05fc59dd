package uploader

import (
	"net/http"
	"net/http/cookiejar"
)

// newCookieJar builds the jar used when WithCredentials is set.
func newCookieJar() (http.CookieJar, error) {
	return cookiejar.New(nil)
}
