// Package protocol fetches resources over the schemes a crawl supports.
//
// Every backend implements Client. A fetch never panics or returns a bare
// error: it returns an Outcome, which is exactly one of
//   - Fetched: the resource was retrieved (ResponseData with a Body),
//   - Expand: the resource is a container (directory, bucket prefix,
//     redirect) and its children should be crawled instead,
//   - Failed: the fetch failed, with a FetchError whose Kind tells the
//     controller whether the failure is per URL or fatal to the session.
//
// The behaviors every backend shares are plain helpers a client calls
// explicitly: WithWatchdog bounds a fetch in time, ContentLimits rejects
// oversized resources before their body is read, Spool buffers bodies in
// memory or a temporary file, and InitOnce performs a lazy backend connect
// whose failure is replayed on every later call.
//
// Clients are looked up by URL scheme through a Registry.
package protocol
