// Package repository define los contratos de persistencia de cuentas locales
// e identity links, independientes del storage (memory, PostgreSQL, SQLite).
//
// Las implementaciones viven en internal/store/adapters/.
//
// Convenciones:
//   - Context siempre es el primer parámetro
//   - (provider, subject) identifica a lo sumo un link
//   - una cuenta tiene a lo sumo un link por provider
//   - violaciones de unicidad se reportan como ErrConflict
package repository
