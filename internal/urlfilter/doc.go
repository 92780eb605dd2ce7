// Package urlfilter decides which URLs a session may crawl.
//
// Patterns are regular expressions matched against the whole URL. A URL is
// rejected when any exclude pattern matches; otherwise it must match one
// include pattern, unless there are none, in which case it is accepted.
//
// A filter has two phases. Before Init, added patterns are staged in
// memory. Init(sessionID) commits the staged set to the store and from
// then on the stored set is authoritative for the session.
package urlfilter
