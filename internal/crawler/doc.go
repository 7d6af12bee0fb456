// Package crawler holds the domain types shared by every shelfscan
// component: jobs, listing results, product records, the document source
// and storage interfaces, fetch errors, retry and per-host politeness.
package crawler
