// Package directory persists the registered-user directory as a JSON file.
//
// The file is a single object keyed by platform user ID:
//
//	{
//	    "U1234": {"name": "Alice", "registered_at": 1700000000000},
//	    "U5678": {"name": "Bob", "registered_at": 1700000050000}
//	}
//
// Key order is insertion order and is preserved across rewrites, so recipient
// lists built from All are stable. Every operation reloads the file and every
// write replaces it atomically. A malformed file is reset to an empty
// directory and logged; callers never see a decode error.
//
// Names are unique case-insensitively. Register enforces this under the store
// lock so two concurrent registrations cannot both take the same name.
package directory
