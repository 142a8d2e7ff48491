// Package git reads the source revision of the project being built so it can
// be recorded in build reports and events.
package git
