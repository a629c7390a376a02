// SPDX-License-Identifier: Apache-2.0

// Package migrations embeds the SQL files that build the dedup ledger schema.
// Every file must be safe to re-run against an existing database.
package migrations

import (
	"embed"
	"io/fs"
	"path"
	"slices"
	"strings"
)

//go:embed *.sql
var embeddedFiles embed.FS

type File struct {
	Name string
	SQL  string
}

// Ordered returns the embedded migrations sorted by file name. Blank files
// are skipped.
func Ordered() ([]File, error) {
	entries, err := fs.ReadDir(embeddedFiles, ".")
	if err != nil {
		return nil, err
	}

	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}

		body, err := embeddedFiles.ReadFile(entry.Name())
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(string(body)) == "" {
			continue
		}

		files = append(files, File{
			Name: entry.Name(),
			SQL:  string(body),
		})
	}

	slices.SortFunc(files, func(a, b File) int {
		return strings.Compare(a.Name, b.Name)
	})

	return files, nil
}
