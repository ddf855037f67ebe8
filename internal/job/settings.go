package job

// Setting is one entry of a job's published_settings schema (spec.md
// §4.D): a getter/setter closure pair standing in for Python's
// __setattr__-driven auto-publish, which Go has no equivalent hook for.
// Assignment always goes through SetSetting so the retained publish is
// never skipped (see DESIGN.md Open Question 1).
type Setting struct {
	DataType string // e.g. "float", "int", "string", "json"
	Settable bool
	Unit     string // physical unit, e.g. "ml", "rpm" — not the bus unit

	Get func() string
	Set func(string) error
}
