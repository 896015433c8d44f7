package multitable

// Pipeline is everything the Runner needs for one load.
type Pipeline struct {
	Job     string
	Storage Storage
	Data    Data
	Runtime RuntimeConfig
}

// Storage selects the backend. Kind is one of storage.RegisteredKinds().
type Storage struct {
	Kind string
	// DSN may reference environment variables as ${VAR}.
	DSN string
}

// Data names the input roots. Both are walked recursively for *.json.
type Data struct {
	SongDir string
	LogDir  string
}

type RuntimeConfig struct {
	// BatchSize bounds the rows per backend call. Zero uses DefaultBatchSize.
	BatchSize int
}
