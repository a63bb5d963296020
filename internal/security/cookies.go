package security

import (
	"net/http"
	"time"
)

// CookiePolicy carries the attributes shared by every cookie the site sets.
type CookiePolicy struct {
	Secure bool
	Domain string
}

func (p CookiePolicy) Set(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, p.build(name, value, int(maxAge/time.Second)))
}

// SetSession writes a cookie without Max-Age so it ends with the browser
// session.
func (p CookiePolicy) SetSession(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, p.build(name, value, 0))
}

func (p CookiePolicy) Clear(w http.ResponseWriter, name string) {
	c := p.build(name, "", -1)
	c.Expires = time.Unix(0, 0)
	http.SetCookie(w, c)
}

func (p CookiePolicy) build(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   p.Domain,
		MaxAge:   maxAge,
		Secure:   p.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func GetCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
