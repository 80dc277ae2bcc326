package main

// Flag structs decouple cobra from logic for testing.

// GlobalFlags apply to every subcommand.
type GlobalFlags struct {
	ManagerURL string // configuration manager base URL; empty = cache only
	CacheDir   string // directory holding restore_configuration_cache.json
	LogLevel   string
	LogFile    string
}

// RestoreFlags select which backup a restore run uses. BackupID and File
// are mutually exclusive; neither set means "latest eligible backup".
type RestoreFlags struct {
	BackupID int64
	File     string
}

// ServeFlags configure the on-demand trigger daemon.
type ServeFlags struct {
	Listen string
}

// UnlockFlags clear a leaked job lock marker.
type UnlockFlags struct {
	Kind string // backup or restore
}
