// Package config holds the crawlkit configuration: the flat Config built from
// command line flags, and the optional YAML file that defines named crawl
// sessions and backend credentials.
package config
