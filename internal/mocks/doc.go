// Package mocks provides in-memory fakes of the pipeline's collaborators for tests:
// the persistence gateway, the generation client, the collection service, the notifier
// and the trending feed.
package mocks
