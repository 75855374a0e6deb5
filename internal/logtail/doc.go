// Package logtail reads the end of beacon's JSON log file and renders it for
// a terminal.
//
// Read keeps a ring buffer of the last maxLines lines, so memory stays
// O(maxLines) whatever the file size. A missing file is not an error: the
// dashboard may simply not have run yet.
//
// Render passes each JSON line through zerolog's ConsoleWriter. Lines that
// are not JSON, such as a panic trace appended to the file, are written
// unchanged.
package logtail
