package claims

import (
	"sort"
	"sync"
)

// Entry describes a claim: the scope that makes a provider release it.
type Entry struct {
	Scope       string `json:"scope"`
	Description string `json:"description,omitempty"`
}

// Alteration extends or rewrites catalog entries. Implementations are
// registered at startup and run once, in order.
type Alteration interface {
	AlterClaims(entries map[string]Entry)
}

// AlterFunc adapts a function to Alteration.
type AlterFunc func(entries map[string]Entry)

func (f AlterFunc) AlterClaims(entries map[string]Entry) { f(entries) }

// Catalog is the enumerable claim → scope mapping.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewCatalog returns the standard OpenID Connect claims with alterations applied.
func NewCatalog(alters ...Alteration) *Catalog {
	entries := standard()
	for _, a := range alters {
		if a != nil {
			a.AlterClaims(entries)
		}
	}
	return &Catalog{entries: entries}
}

func (c *Catalog) Get(name string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	return e, ok
}

// Names returns the claim names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for n := range c.entries {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Entries returns a copy of the mapping.
func (c *Catalog) Entries() map[string]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Entry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Scopes builds the scope list for an authorization request: "openid"
// first, then base in order, then the scope of each wanted claim the catalog
// knows. Duplicates are dropped.
func (c *Catalog) Scopes(base []string, wanted ...string) []string {
	seen := map[string]bool{"openid": true}
	out := []string{"openid"}
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range base {
		add(s)
	}
	c.mu.RLock()
	for _, n := range wanted {
		if e, ok := c.entries[n]; ok {
			add(e.Scope)
		}
	}
	c.mu.RUnlock()
	return out
}

func standard() map[string]Entry {
	return map[string]Entry{
		"sub":                   {Scope: "openid", Description: "Subject identifier"},
		"name":                  {Scope: "profile", Description: "Full name"},
		"given_name":            {Scope: "profile", Description: "Given name"},
		"family_name":           {Scope: "profile", Description: "Surname"},
		"middle_name":           {Scope: "profile", Description: "Middle name"},
		"nickname":              {Scope: "profile", Description: "Nickname"},
		"preferred_username":    {Scope: "profile", Description: "Preferred username"},
		"profile":               {Scope: "profile", Description: "Profile page"},
		"picture":               {Scope: "profile", Description: "Profile picture"},
		"website":               {Scope: "profile", Description: "Website"},
		"gender":                {Scope: "profile", Description: "Gender"},
		"birthdate":             {Scope: "profile", Description: "Birthdate"},
		"zoneinfo":              {Scope: "profile", Description: "Time zone"},
		"locale":                {Scope: "profile", Description: "Locale"},
		"updated_at":            {Scope: "profile", Description: "Last updated"},
		"email":                 {Scope: "email", Description: "Email"},
		"email_verified":        {Scope: "email", Description: "Email verified"},
		"address":               {Scope: "address", Description: "Address"},
		"phone_number":          {Scope: "phone", Description: "Phone number"},
		"phone_number_verified": {Scope: "phone", Description: "Phone number verified"},
	}
}
