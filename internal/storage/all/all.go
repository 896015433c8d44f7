// Package all registers every storage backend. Import it for side effects.
package all

import (
	_ "sparkify/internal/storage/mssql"
	_ "sparkify/internal/storage/postgres"
	_ "sparkify/internal/storage/sqlite"
)
