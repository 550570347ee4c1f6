// Package migrations embeds the SQL migration set for the networked
// backend so golang-migrate's iofs source driver can read it directly
// from the compiled binary, the same layout marmos91-dittofs uses for
// its postgres metadata store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
