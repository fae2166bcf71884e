// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package wire implements the ledger's primitive types and their canonical
serialization.

The types here mirror what the chain node commits: blocks carrying signed
transactions, and transactions carrying a small tagged union of operations.
Only the two operation kinds this daemon touches are implemented: asset
transfers (observed when watching for purchase payments) and custom data
operations (published to settle a purchase).  Serialization is deterministic
so that transaction digests, signatures, and fee-by-size calculations agree
with the node.
*/
package wire
