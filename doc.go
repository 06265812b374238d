// Package nfscache is an embeddable, persistent, thread-safe key-value
// cache built for correct operation on network filesystems (NFS,
// SMB/CIFS, synced cloud drives), where embedded databases that rely on
// advisory locks and random-access writes routinely corrupt.
//
// Every write lands through a same-directory temp-file-then-rename, is
// fsynced by default, and is only published to the in-memory index
// after the rename succeeds, so a crash never leaves a key pointing at a
// partially written file. Open reconciles the index against whatever is
// actually durable on disk, and a background vacuum repeats that
// reconciliation periodically afterward.
//
//	cache, err := nfscache.Open(nfscache.DefaultConfig("/var/cache/app"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer cache.Close()
//
//	if err := cache.Set([]byte("k"), []byte("v"), nfscache.WithTTL(time.Minute)); err != nil {
//		log.Fatal(err)
//	}
//	if v, ok := cache.Get([]byte("k")); ok {
//		fmt.Println(string(v))
//	}
package nfscache
