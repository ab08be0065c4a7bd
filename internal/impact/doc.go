// Package impact defines the domain types and collaborator contracts shared by
// the scoring pipeline, the crawl workers, the storage backends, and the HTTP API.
package impact
