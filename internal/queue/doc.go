// Package queue holds synthesized audio until it can be played in order.
// Synthesis jobs complete in any order; the ready buffer releases them
// strictly by sequence number and skips the ones that failed.
package queue
