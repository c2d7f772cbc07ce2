// Package platform provides functionality for performing the low-level
// operations needed for mount manipulation, namespace handling and root
// filesystem transitions.
// Since nsutil is Linux-specific, `unix` stdlib functions are used preferentially
// over their `os` equivalent for consistency.
package platform
