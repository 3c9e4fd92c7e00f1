// Package scripts holds the Risor library embedded into tsbridge. Scripts
// run by the runtime can import any of these modules by file name.
package scripts

import "embed"

//go:embed *.risor
var FS embed.FS
