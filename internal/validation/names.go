// Package validation holds the name rules shared by configuration, the
// provider registry and the identity linker.
package validation

import "regexp"

var (
	// lowercase, [a-z0-9] en los extremos, ":_.-" en el medio, 1..64
	scopeNameRe = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9:_\.-]{0,62}[a-z0-9])?$`)
	// los nombres de provider viajan en la ruta (/auth/{provider}/callback)
	// y en las claves de cache: nada de ':' ni '.'
	providerNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
)

// ValidScopeName reports whether name may be requested from a provider.
// openid, offline_access and api:read pass; BAD, ";x" and "trailer:" don't.
func ValidScopeName(name string) bool {
	return scopeNameRe.MatchString(name)
}

func ValidProviderName(name string) bool {
	return providerNameRe.MatchString(name)
}
