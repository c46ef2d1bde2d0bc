// Package mv2 provides an embedded persistent memory store backed by a
// single append-only .mv2 container file.
//
// The store keeps immutable, versioned, checksummed records called frames --
// documents, chunks of documents, and extracted sub-objects -- and makes
// them queryable two ways: chronologically through the timeline and by
// relevance through hybrid full-text search.
//
// # Quick Start
//
//	st, err := mv2.Create("m.mv2")
//	if err != nil {
//	    panic(err)
//	}
//	defer st.Close()
//
//	put, err := st.Put([]byte("hello world"), &mv2.PutOptions{URI: "u1"})
//	if err != nil {
//	    panic(err)
//	}
//	if _, err := st.Commit(); err != nil {
//	    panic(err)
//	}
//
//	resp, err := st.Search(mv2.SearchRequest{Query: "hello", TopK: 10})
//	if err != nil {
//	    panic(err)
//	}
//	for _, hit := range resp.Hits {
//	    fmt.Println(hit.FrameID, hit.Snippet)
//	}
//
// # Versioning
//
// Frames are never mutated in place. An update appends a new Active frame
// and demotes the old one to Superseded; a delete appends a tombstone
// transition to Deleted. Both become durable and visible to new readers
// atomically at the next Commit, and history stays in the file for audit
// and as-of queries.
//
// # Search
//
// Queries run against an inverted index built with a CJK-aware tokenizer
// pipeline (dictionary segmentation, alphanumeric filtering, lowercasing,
// English stemming) and are ranked by BM25. When the index is unavailable
// or under-returns, a substring fallback engine supplements the results;
// the response's Engine label records which path served the request.
package mv2
