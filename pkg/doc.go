// Package bernard detects file changes for a backup agent by reconciling a
// directory tree against a map file written by the previous run.
//
// # Core API
//
// The main entry point is Reconciler, which runs one mark-and-sweep pass:
//
//	digester, _ := bernard.NewFileDigester("sha256", 0, nil)
//	r := bernard.NewReconciler("/var/lib/bernard/home.map", "/home", digester)
//	result, err := r.Run(nil)
//	if result.HasChanges() {
//		fmt.Printf("Found %d changes\n", result.TotalChanges())
//	}
//
// Every regular file is reported to the optional Reporter as new, changed,
// unchanged or unchanged-content. Files that were in the map but not found
// are reported as deleted once the walk is complete. Only then is the map
// file replaced, atomically.
//
// # Building Blocks
//
// Walker, Cache and MapStore can be used on their own. Walker calls a
// Visitor for every regular file, directory and traversal error. Cache
// keeps the mark state of every tracked path. MapStore reads and writes the
// versioned map file.
//
// # Configuration
//
// Settings are read from an INI file (see LoadConfig), by default
// <mapfile>.conf. Enable debug output with:
//
//	bernard.SetDebugFlags("walk,mapfile,reconcile")
//	bernard.SetVerboseLevel(2)
package bernard
