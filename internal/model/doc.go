// Package model defines the core data structures shared by the crawler.
//
// This package contains the following main types:
//   - QueueEntry: A pending fetch in a session's frontier
//   - FetchResult: The persisted outcome of one fetch (the access result)
//   - CrawlSession: A crawl's identity, limits and lifecycle status
//   - FilterPattern: A persisted include/exclude URL pattern
//   - ResponseData: What a protocol client hands to rules and transformers
//   - ResultData: What a transformer produces from a response
//
// Models live in their own package because the store, frontier, rule,
// transformer and protocol packages all exchange them.
package model
