// Package main provides the entry point for the crawlkit CLI.
//
// crawlkit crawls web sites, local directories, SMB shares and object
// storage buckets, stores every fetched resource per session and prints a
// session report.
//
// Usage:
//
//	crawlkit crawl <seed-url>...
//	crawlkit crawl --all
//	crawlkit sessions list
//
// See --help for all available options.
package main

func main() {
	Execute()
}
