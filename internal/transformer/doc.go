// Package transformer turns fetched responses into stored result data.
//
// A Transformer reads a response body and produces a model.ResultData:
// the payload to store, extracted attributes and the child URLs to crawl
// next. Transform errors are recoverable per URL; the crawl records them as
// parse failures and moves on.
package transformer
