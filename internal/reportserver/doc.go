// Package reportserver accepts benchmark reports posted by devices and
// stores each one as a JSON file in a data directory.
//
// Reports are posted to POST /ios-report as a JSON object carrying string
// device, version and experiment members. Each accepted report is written
// as <timestamp>_<experiment>_<device>_<version>.json with the posted
// document indented by four spaces. A name that is already taken gets a
// numeric suffix, so concurrent reports from the same device are all kept.
package reportserver
