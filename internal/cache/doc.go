// Package cache memoizes synthesized audio in memory so repeated sentences
// skip the network round trip. Entries live for the process lifetime at most.
package cache
