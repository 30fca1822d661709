package stm

// The stm package implements tinyclj's software transactional memory. Refs are the language's mutable reference cells;
// every change to a Ref happens inside a transaction, and all the changes of a transaction become visible at once or not
// at all.
//
// A transaction is run by `Engine.RunInTransaction` (or `Sync` on the default engine). The running transaction travels in
// the context.Context handed to the body, and every Ref operation takes that context. A body may run several times: when
// it conflicts with another transaction it is thrown away and run again from scratch, so a body must not have side
// effects other than Ref operations.
//
// ## Points and history
//
// The engine's clock hands out points. An attempt reads the clock when it starts (its read point) and sees every Ref as
// of that point. Each commit takes one new point from the clock and stamps every value it writes with it. A Ref keeps a
// short history of committed values (see the history package) so that a transaction can still read the value which was
// current at its read point after a newer one was committed. When the history is too short the read fails with a history
// fault, the attempt is retried, and the Ref keeps one more old value from its next commit on (up to MaxHistory).
//
// ## Ownership and latches
//
// Every Ref has a latch (see the latches package). Readers take it shared for the duration of a single read. A transaction
// which sets a Ref takes it exclusively just long enough to become the owner of the Ref; a Ref owned by a running
// transaction can't be claimed by another one. The commit takes the exclusive latches of every Ref it writes, in ascending
// Ref id order so that two commits never wait for each other in a cycle, and holds them until the new values are
// published. Touch (ensure) holds a Ref's latch shared until the transaction ends, which keeps other writers from
// committing to it.
//
// Before the new values are published the commit validates its read set: a Ref read by the transaction which was
// committed after the read point makes the attempt retry.
//
// ## Barging
//
// When a transaction finds a Ref owned by another running one, the older of the two (by the read point of its first
// attempt) wins: it kills the younger, which notices at its next operation and retries. A younger transaction waits for
// the owner to finish, for at most LockWaitTimeout, and then retries.
//
// Commute queues a function which the commit applies to the value current at commit time. Commutes don't read the Ref and
// don't own it, so transactions which only commute the same Ref never make each other retry.
