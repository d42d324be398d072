//go:build release

package global

var Version = "0.1.0"
