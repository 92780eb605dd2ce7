// Package frontier implements the per-session URL queue of a crawl.
//
// Each session owns an in-memory FIFO list, a bounded LRU dedup cache and a
// mutex, held in an explicit registry keyed by session id. Entries offered
// for crawling are deduplicated against the cache, the in-memory list, the
// persistent queue, the stored results and the visited marks before they are
// accepted, and accepted entries overflow into a store.QueueStore. Polling
// drains memory first and refills it from the store one page at a time.
package frontier
