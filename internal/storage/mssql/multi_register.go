package mssql

import "sparkify/internal/storage"

func init() {
	// registers the multi-table backend factory
	storage.RegisterMulti("mssql", NewMulti)
}
