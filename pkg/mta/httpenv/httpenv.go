// Package httpenv adapts one HTTP request/response exchange to the mta
// capability interfaces, so a server-rendered Go application can run the
// tracker per request: the device cookie rides the response, navigational
// context comes from the request URL and Referer header.
package httpenv

import (
	"net/http"

	"github.com/shayan-deriv/multi-touch-attribution/pkg/mta"
)

// Cookies reads cookies from the request and writes them to the response.
type Cookies struct {
	w http.ResponseWriter
	r *http.Request
}

func NewCookies(w http.ResponseWriter, r *http.Request) *Cookies {
	return &Cookies{w: w, r: r}
}

func (c *Cookies) Get(name string) (string, bool, error) {
	ck, err := c.r.Cookie(name)
	if err != nil {
		// http.ErrNoCookie is the only error Cookie returns.
		return "", false, nil
	}
	return ck.Value, true, nil
}

func (c *Cookies) Set(ck mta.Cookie) error {
	http.SetCookie(c.w, &http.Cookie{
		Name:     ck.Name,
		Value:    ck.Value,
		Expires:  ck.Expires,
		Domain:   ck.Domain,
		Path:     ck.Path,
		Secure:   ck.Secure,
		SameSite: sameSite(ck.SameSite),
	})
	return nil
}

func sameSite(v string) http.SameSite {
	switch v {
	case "Strict":
		return http.SameSiteStrictMode
	case "Lax":
		return http.SameSiteLaxMode
	case "None":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}

// Page derives navigational context from the request.
type Page struct {
	r *http.Request
}

func NewPage(r *http.Request) *Page { return &Page{r: r} }

// URL reconstructs the full request URL. The scheme honors the TLS state
// and X-Forwarded-Proto so cookie scoping works behind a proxy.
func (p *Page) URL() (string, bool) {
	if p.r == nil || p.r.Host == "" {
		return "", false
	}
	u := *p.r.URL
	u.Host = p.r.Host
	u.Scheme = "http"
	if p.r.TLS != nil || p.r.Header.Get("X-Forwarded-Proto") == "https" {
		u.Scheme = "https"
	}
	return u.String(), true
}

func (p *Page) Referrer() string {
	if p.r == nil {
		return ""
	}
	return p.r.Referer()
}

// Title is not knowable server-side.
func (p *Page) Title() string { return "" }
