package memory

// Config holds store-level tuning. It is constructed once at process start
// and treated as immutable afterwards.
type Config struct {
	// HashLength is the hex-character truncation applied to content and
	// tool-call hashes. Shorter hashes trade collision safety for
	// brevity; collisions across distinct content are a rare, accepted
	// data-quality risk rather than a detected error.
	HashLength int

	// RecencyDecayDays is the salience half-life: a memory last
	// reinforced exactly this many days ago contributes half its
	// similarity-weighted score.
	RecencyDecayDays float64

	// ToolStatsWindow is how many trailing tool calls statistics are
	// computed over.
	ToolStatsWindow int
}

// DefaultConfig returns the defaults used when a nil config is supplied.
var DefaultConfig = &Config{
	HashLength:       DefaultHashLength,
	RecencyDecayDays: 30.0,
	ToolStatsWindow:  20,
}
