package tinyclj

/*
tinyclj is the runtime of a small Clojure-like language. This module holds the parts of the runtime which deal with
shared mutable state: Refs and the software transactional memory (STM) which coordinates changes to them.

A Ref is changed only inside a transaction. Transactions see a consistent snapshot of every Ref they read, and all of the
changes of a transaction become visible at once. Conflicting transactions are retried automatically. The language's
`dosync`, `ref-set`, `alter`, `commute` and `ensure` map onto `stm.Engine.RunInTransaction`, `Ref.Set`, `Ref.Alter`,
`Ref.Commute` and `Ref.Touch`.

Building tinyclj produces one executable, stm-bench, which runs contention workloads (counters, bank transfers, ensured
pairs) against the STM and reports latencies, retries and whether the workload's invariant held.

The `tinyclj` module is organized into the following packages:

* `rt/stm`: Refs, transactions and the engine which runs them.
* `rt/stm/clock`: the point clock which orders commits.
* `rt/stm/history`: the bounded history of committed values kept by every Ref.
* `rt/stm/latches`: the read/write latch guarding every Ref.
* `rt/config`: engine configuration, loaded from TOML.
* `log`: structured logging used throughout the module.
* `bench`: the stm-bench command and its workloads, generators and measurements.
*/
