package main

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/relkernel/storagecore/internal/bufferpool"
	"github.com/relkernel/storagecore/internal/config"
	"github.com/relkernel/storagecore/internal/diskio"
	"github.com/relkernel/storagecore/internal/index"
	"github.com/relkernel/storagecore/internal/index/catalog"
	"github.com/relkernel/storagecore/internal/index/hash"
)

func main() {
	cfg := config.Default()
	dataDir := filepath.Join("data", "test", "hash_db")

	fs := diskio.LocalFileSet{Dir: dataDir, Base: "users_email_idx.db"}
	pool := bufferpool.NewPool(diskio.NewManager(fs), cfg.Pool.NumFrames, cfg.Pool.NumInstances, cfg.Pool.InstanceIndex)

	header := catalog.New(pool)
	if err := header.Bootstrap(); err != nil {
		log.Fatalf("Bootstrap: %v", err)
	}

	tbl, err := hash.Open(pool, header, "users_email_idx", cfg.Index.HashBuckets)
	if err != nil {
		log.Fatalf("Open: %v", err)
	}

	for i := int64(1); i <= 20; i++ {
		rid := index.RID{PageID: uint32(i), Slot: 0}
		if _, err := tbl.Insert(i, rid); err != nil {
			log.Fatalf("Insert: %v", err)
		}
	}

	pool.FlushAllPages()

	got, err := tbl.Get(13)
	if err != nil {
		log.Fatalf("Get: %v", err)
	}
	fmt.Printf("lookup id=13 -> %+v\n", got)

	ok, err := tbl.VerifyIntegrity()
	if err != nil {
		log.Fatalf("VerifyIntegrity: %v", err)
	}
	fmt.Printf("directory integrity ok=%v\n", ok)
}
