/*
Package treeline provides a persistent, content-addressed, append-only
sequence store: a log of (Key, Value) pairs, indexed by position,
queryable by user-defined summaries (time ranges, tags, boolean
combinations), compressed before storage, and encrypted so it can live
on an untrusted public content-addressed network.  Trees can be huge
(not limited to memory).  Trees can be stored in anything, like a
filesystem, KV store, or blob store.  Trees are designed to be safely
concurrently read by multiple threads/hosts.

# Structure

Items are chunked into nodes by the compressed size of the node
payload, so on-the-wire block sizes stay uniform even though
compression ratio varies by content.  Level-0 nodes carry only Values;
the Keys of a leaf live in its level-1 parent alongside the leaf link,
and higher levels carry aggregated Summaries.  Summaries form a monoid
(associative combine with an identity), which is what lets a query
skip whole subtrees without fetching them.

Every persisted node is immutable.  A tree never rewrites a block in
place: appending or deleting produces new blocks and a new root, and
any previously published root remains a valid snapshot for as long as
its blocks exist.  Index positions are never reused or shifted, even
after range deletion.

# Encryption

A node's payload is encoded, compressed, then encrypted, in that
order.  Two secrets are used: one for index-bearing nodes (level >= 1)
and one for value-bearing nodes (level 0), so a holder of only the
index secret can traverse and filter a tree without ever being able to
decrypt its values.  The node envelope (offset, link list, nonce) is
not encrypted, so link discovery and garbage-collection reachability
need no secrets at all.

# Concurrency

Each tree has a single writer; appends and range deletions are
serialized and each either installs a new root or leaves the tree at
its previous, still-valid root.  Readers need no locks: any number may
traverse any published root, including one that is concurrently being
superseded.
*/
package treeline
