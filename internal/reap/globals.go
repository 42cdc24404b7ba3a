package reap

import (
	"github.com/gookit/color"
)

// Global variables
var (
	rootDir     string
	StateDir    string
	CacheDir    string
	SourcesDir  string
	ArtifactDir string
	RunDir      string
	SnapshotDir string
	TapDir      string
	KeyDir      string
	tmpDir      string
	Debug       bool
	Verbose     bool
	ConfigFile  = "/etc/reap.conf"
	LockFile    string
	version     = "dev"     // overridden at build time
	buildDate   = "unknown" // overridden at build time

	// Global executors (assigned in cli setup)
	UserExec *Executor
	RootExec *Executor
)

// VersionString reports the build version for --version output.
func VersionString() string {
	return version + " (" + buildDate + ")"
}

// color helpers
var (
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)
