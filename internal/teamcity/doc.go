// Package teamcity implements the REST client for the TeamCity server.
//
// The client authenticates with a bearer token and speaks the JSON
// flavor of the API: /app/rest/projects, /app/rest/buildTypes,
// /app/rest/builds (paged via nextHref), and downloadBuildLog.html for
// plain-text logs.
//
// Every failure is classified into an ErrorKind (network, auth, not
// found, rate limited) so the fetch pipeline can decide between
// retrying, backing off, pruning, and giving up. The Fetcher interface
// is the seam tests fake.
package teamcity
