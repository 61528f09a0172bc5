// Package migrations embeds the XR Monitor schema into the binary so the
// service can migrate without SQL files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/xrmonitor-core/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.Source = files
}
