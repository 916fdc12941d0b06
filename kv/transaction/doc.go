// Package transaction implements optimistic concurrency control over the tables of a
// storage.Catalog.
//
// A transaction runs in a TxnContext obtained from Manager.Begin. Reads and writes go through a
// storage.Table with the context as buffer: reads record the committed row in the read-set, writes
// are staged in the write-set and never touch the table. Manager.Commit hands the context to a pool
// of committers. A committer
//
//  1. snapshots the commit counter and the set of transactions currently validating, and joins
//     that set;
//  2. checks backward: no transaction that committed after this one began wrote a key it read;
//  3. checks forward: no transaction validating concurrently writes a key it read or wrote;
//  4. logs the write-set and the commit, applies the writes to the tables, then takes the next
//     commit number and records its write keys in the commit history.
//
// Any failed step aborts the transaction without applying writes. The commit history is a ring of
// HistorySize entries; a transaction that started more commits ago than that cannot be checked
// and aborts.
package transaction
