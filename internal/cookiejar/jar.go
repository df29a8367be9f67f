// Package cookiejar is a host-keyed cookie jar with an in-memory cache
// mirrored to the store on every mutation. It implements net/http.CookieJar
// so the portal's http.Client picks cookies up transparently, and it
// survives restarts so a valid session avoids a fresh captcha login.
package cookiejar

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"shsmu-sync/internal/store"
)

// Cookie is the persisted record shape, one JSON array of these per host.
type Cookie struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Domain    string `json:"domain"`
	Path      string `json:"path"`
	ExpiresAt int64  `json:"expiresAt"` // epoch milliseconds
	Secure    bool   `json:"secure"`
	HTTPOnly  bool   `json:"httpOnly"`
	HostOnly  bool   `json:"hostOnly"`
}

// maxExpiresAt is recorded for session cookies (no Expires/Max-Age) so the
// single expiresAt > now filter applies to every entry uniformly.
const maxExpiresAt = 253402300799999 // 9999-12-31T23:59:59.999Z

// Jar is safe for concurrent use; one mutex covers the cache and the
// mirrored disk write, giving read-after-write consistency in-process.
type Jar struct {
	mu    sync.Mutex
	store *store.Store
	cache map[string][]Cookie
	log   zerolog.Logger
	now   func() time.Time
}

// New builds a jar and eagerly loads every persisted host. A corrupt
// per-host record is skipped, not fatal.
func New(st *store.Store, log zerolog.Logger) *Jar {
	j := &Jar{
		store: st,
		cache: map[string][]Cookie{},
		log:   log,
		now:   time.Now,
	}
	j.loadAll()
	return j
}

func (j *Jar) loadAll() {
	hosts, err := j.store.LoadCookieHosts()
	if err != nil {
		j.log.Error().Err(err).Msg("loading persisted cookies failed")
		return
	}
	for host, payload := range hosts {
		var list []Cookie
		if err := json.Unmarshal([]byte(payload), &list); err != nil {
			j.log.Warn().Str("host", host).Err(err).Msg("skipping corrupt cookie record")
			continue
		}
		j.cache[host] = list
	}
}

// SetCookies implements http.CookieJar. A new cookie replaces any existing
// entry with the same (name, domain) under that host; the host's full list
// is then persisted as one atomic write.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	host := u.Hostname()
	list := j.cache[host]
	for _, c := range cookies {
		rec := fromHTTPCookie(host, c, j.now())
		kept := make([]Cookie, 0, len(list)+1)
		for _, old := range list {
			if old.Name == rec.Name && old.Domain == rec.Domain {
				continue
			}
			kept = append(kept, old)
		}
		list = append(kept, rec)
	}
	j.cache[host] = list
	j.persist(host, list)
}

// Cookies implements http.CookieJar. Expired entries are filtered at read
// time only; the cache is not proactively evicted.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	nowMs := j.now().UnixMilli()
	var out []*http.Cookie
	for _, c := range j.cache[u.Hostname()] {
		if c.ExpiresAt <= nowMs {
			continue
		}
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

// Clear empties the in-memory cache and erases all persisted entries.
func (j *Jar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.cache = map[string][]Cookie{}
	if err := j.store.ClearCookies(); err != nil {
		j.log.Error().Err(err).Msg("clearing persisted cookies failed")
	}
}

func (j *Jar) persist(host string, list []Cookie) {
	payload, err := json.Marshal(list)
	if err != nil {
		j.log.Error().Str("host", host).Err(err).Msg("serializing cookies failed")
		return
	}
	if err := j.store.SaveCookieHost(host, string(payload)); err != nil {
		j.log.Error().Str("host", host).Err(err).Msg("persisting cookies failed")
	}
}

func fromHTTPCookie(host string, c *http.Cookie, now time.Time) Cookie {
	domain := strings.TrimPrefix(c.Domain, ".")
	hostOnly := domain == ""
	if hostOnly {
		domain = host
	}

	path := c.Path
	if path == "" {
		path = "/"
	}

	var expiresAt int64
	switch {
	case c.MaxAge > 0:
		expiresAt = now.Add(time.Duration(c.MaxAge) * time.Second).UnixMilli()
	case c.MaxAge < 0:
		// Deletion request: store already-expired so reads skip it.
		expiresAt = now.UnixMilli()
	case !c.Expires.IsZero():
		expiresAt = c.Expires.UnixMilli()
	default:
		expiresAt = maxExpiresAt
	}

	return Cookie{
		Name:      c.Name,
		Value:     c.Value,
		Domain:    domain,
		Path:      path,
		ExpiresAt: expiresAt,
		Secure:    c.Secure,
		HTTPOnly:  c.HttpOnly,
		HostOnly:  hostOnly,
	}
}
