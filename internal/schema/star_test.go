package schema

import (
	"slices"
	"testing"
)

func TestColumnListsMatchTableSpecs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		got  []string
		want []string
	}{
		{"staging", Staging().ColumnNames(), StagingColumns},
		{"users", Users().ColumnNames(), UserColumns},
		{"songs", Songs().ColumnNames(), SongColumns},
		{"artists", Artists().ColumnNames(), ArtistColumns},
		{"time", Time().ColumnNames(), TimeColumns},
		{"songplays", Songplays().ColumnNames(), SongplayColumns},
	}
	for _, tc := range tests {
		if !slices.Equal(tc.got, tc.want) {
			t.Fatalf("%s columns=%v, want %v", tc.name, tc.got, tc.want)
		}
	}
}

func TestTables_ReferencedTablesComeFirst(t *testing.T) {
	t.Parallel()

	pos := map[string]int{}
	for i, tbl := range Tables() {
		if err := tbl.Validate(); err != nil {
			t.Fatalf("Validate(%s): %v", tbl.Name, err)
		}
		pos[tbl.Name] = i
	}
	for _, tbl := range Tables() {
		for _, c := range tbl.Columns {
			if c.References == nil {
				continue
			}
			ref, ok := pos[c.References.Table]
			if !ok {
				t.Fatalf("%s.%s references unknown table %s", tbl.Name, c.Name, c.References.Table)
			}
			if ref >= pos[tbl.Name] {
				t.Fatalf("%s must be created after %s", tbl.Name, c.References.Table)
			}
		}
	}
}

func TestSongplays_DedupeKeyIsNotNull(t *testing.T) {
	t.Parallel()

	spec := Songplays()
	for _, c := range spec.Columns {
		if slices.Contains(SongplayKey, c.Name) && c.IsNullable() {
			t.Fatalf("songplays.%s is part of the unique key and must be NOT NULL", c.Name)
		}
	}
}
