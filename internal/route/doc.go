// Package route picks the delivery pathway for a classified recipient set.
//
// Attachment presence and type take priority over recipient mix: media has
// per-type size and caption constraints, while pure-text sends can be
// batched across mixed recipient types in a single fan-out. The decision
// table and per-pathway constraints live here as data; the dispatcher
// executes whatever plan comes out.
package route
