// Package cookie abstracts request cookie reads and response cookie writes.
package cookie

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Jar reads cookies sent with the request and queues cookies on the response.
type Jar interface {
	Get(name string) (string, bool)
	Set(c *http.Cookie)
}

type ginJar struct {
	c *gin.Context
}

// FromGin adapts a gin request to a Jar.
func FromGin(c *gin.Context) Jar {
	return ginJar{c: c}
}

func (j ginJar) Get(name string) (string, bool) {
	value, err := j.c.Cookie(name)
	if err != nil || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

func (j ginJar) Set(c *http.Cookie) {
	http.SetCookie(j.c.Writer, c)
}

// Expired returns a cookie that instructs the browser to drop name.
func Expired(name, path, domain string, secure, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Domain:   domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		Secure:   secure,
		HttpOnly: httpOnly,
		SameSite: http.SameSiteLaxMode,
	}
}

// RequestIsSecure reports whether r arrived over HTTPS, directly or through a
// TLS-terminating proxy.
func RequestIsSecure(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
}

// Recorder is an in-memory Jar.
type Recorder struct {
	In  map[string]string
	Out []*http.Cookie
}

func NewRecorder(in map[string]string) *Recorder {
	if in == nil {
		in = map[string]string{}
	}
	return &Recorder{In: in}
}

func (r *Recorder) Get(name string) (string, bool) {
	value, ok := r.In[name]
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

func (r *Recorder) Set(c *http.Cookie) {
	r.Out = append(r.Out, c)
}

// Last returns the most recently set cookie called name.
func (r *Recorder) Last(name string) *http.Cookie {
	for i := len(r.Out) - 1; i >= 0; i-- {
		if r.Out[i].Name == name {
			return r.Out[i]
		}
	}
	return nil
}
