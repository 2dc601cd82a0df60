// Package leafdb is an embedded, single-process JSON document store.
//
// Documents live in memory, keyed by their "_id" field, and are optionally
// mirrored to an append-only JSONL log. Every mutation appends a line: the new
// full value of a document, or a tombstone {"_id": ..., "$deleted": true}.
// [Store.Open] replays the log, drops corrupt lines and tombstoned documents,
// then rewrites the file with only the survivors.
//
// Queries are partial documents. Field values may be literals compared by deep
// equality, nested partial queries, or operator objects:
//
//	{"age": {"$gte": 18}, "address": {"city": "Paris"}}
//	{"$or": [{"tags": {"$includes": "a"}}, {"name": {"$regex": "^A"}}]}
//
// Updates are either replacement documents or modifier objects using $set,
// $add and $push over dotted field paths.
//
// A Store is not safe for concurrent use. Callers serialize access.
package leafdb
