package index

// RID (record identifier) names the row a tree or hash entry points to:
// PageID: the heap page holding the row
// Slot: the row's slot index within that page
//
// The table heap that interprets a RID is external to this core; this
// type only needs to be comparable and binary-encodable.
type RID struct {
	PageID uint32
	Slot   uint16
}
