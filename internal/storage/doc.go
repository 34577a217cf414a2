// Package storage persists tasks, watches, notes and conversation
// history. The sqlite driver is the durable default; the memory driver
// exists for tests. Both honor the same Store contract, in particular
// that rescheduling only applies to active tasks and that completing a
// task clears its failure count.
package storage
