package main

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/relkernel/storagecore/internal/bufferpool"
	"github.com/relkernel/storagecore/internal/config"
	"github.com/relkernel/storagecore/internal/diskio"
	"github.com/relkernel/storagecore/internal/index"
	"github.com/relkernel/storagecore/internal/index/btree"
	"github.com/relkernel/storagecore/internal/index/catalog"
)

func main() {
	cfg := config.Default()
	dataDir := filepath.Join("data", "test", "btree_db")

	fs := diskio.LocalFileSet{Dir: dataDir, Base: "users_id_idx.db"}
	pool := bufferpool.NewPool(diskio.NewManager(fs), cfg.Pool.NumFrames, cfg.Pool.NumInstances, cfg.Pool.InstanceIndex)

	header := catalog.New(pool)
	if err := header.Bootstrap(); err != nil {
		log.Fatalf("Bootstrap: %v", err)
	}

	tree, err := btree.Open(pool, header, "users_id_idx", cfg.Index.BTreeOrder, cfg.Index.BTreeOrder)
	if err != nil {
		log.Fatalf("Open: %v", err)
	}

	for i := int64(1); i <= 10; i++ {
		rid := index.RID{PageID: uint32(i), Slot: 0}
		if _, err := tree.Insert(i, rid); err != nil {
			log.Fatalf("Insert: %v", err)
		}
	}

	pool.FlushAllPages()

	fmt.Println("lookup id=7 via index:")
	got, err := tree.Get(7)
	if err != nil {
		log.Fatalf("Get: %v", err)
	}
	fmt.Printf("RIDs=%+v\n", got)

	fmt.Println("range scan 3..6:")
	it, err := tree.BeginAt(3)
	if err != nil {
		log.Fatalf("BeginAt: %v", err)
	}
	defer it.Close()
	for it.Valid() {
		k, v := it.Item()
		if k > 6 {
			break
		}
		fmt.Printf("key=%d rid=%+v\n", k, v)
		if err := it.Next(); err != nil {
			log.Fatalf("Next: %v", err)
		}
	}
}
