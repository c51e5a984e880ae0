// Package testutil contains helper builders and scripted participants used
// across tests to reduce boilerplate when constructing messages, persisted
// histories and deterministic agents. They are not intended for production
// usage.
package testutil
