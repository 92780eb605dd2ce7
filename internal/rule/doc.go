// Package rule selects how a fetched response is processed.
//
// A Manager holds an ordered list of rules. Rule returns the first rule
// whose predicate matches a response; its transformer turns the response
// into stored result data. Registration happens at startup, dispatch
// during the crawl.
package rule
