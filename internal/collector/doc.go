// Package collector walks the result tree of a finished run and plans where
// each log artifact is stored locally.
//
// Results are laid out as
//
//	<root>/<run-id>/<job>/device.json
//	<root>/<run-id>/<job>/<test>.<ext>
//
// Job and test names are sanitized with JobDirName and TestFileName. Names
// that still collide get a numeric suffix, so every planned path is unique.
package collector
