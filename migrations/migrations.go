// Package migrations embeds the fulfillment schema.
package migrations

import (
	"embed"
	"io/fs"
	"sort"
)

//go:embed *.sql
var files embed.FS

// Fulfillment returns the schema scripts in apply order. Each script is
// idempotent and safe to run on every start.
func Fulfillment() []string {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		panic(err) // pattern is static
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		b, err := files.ReadFile(name)
		if err != nil {
			panic(err)
		}
		out = append(out, string(b))
	}
	return out
}
