// Package crawler runs crawl sessions.
//
// A Crawler owns one session. Execute seeds the frontier and starts a pool
// of workers; each worker repeatedly polls an entry, re-checks it against
// the URL filter and the depth limit, fetches it through the protocol
// client registered for its scheme, dispatches the response to a rule,
// stores the result and offers the discovered child URLs back to the
// frontier. The session moves from READY to RUNNING and ends DONE when the
// workers run out of work or hit the access limit, or ABORTED when it is
// stopped or a fatal error occurs.
//
// Sessions are isolated: two crawlers sharing a frontier and a store never
// see each other's URLs. Batch runs several crawlers concurrently.
package crawler
