package static

import _ "embed"

// UsageMd contains the embedded API usage guide served at /usage.md.
//
//go:embed usage.md
var UsageMd string
