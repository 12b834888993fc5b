package store

import "fmt"

// Key layout follows keys.go's withVer/prefix convention: a version
// prefix plus an underscore-joined namespace, so a later wire-format
// change can coexist with old data during migration.
const keyVersion = "v1"

func withVer(s string) []byte {
	return []byte(keyVersion + "_" + s)
}

func keyBlock(height uint64) []byte {
	return withVer(fmt.Sprintf("block_%020d", height))
}

func keySnapshot(height uint64) []byte {
	return withVer(fmt.Sprintf("snapshot_%020d", height))
}

func keyLatestHeight() []byte {
	return withVer("latest_block_height")
}

func keyGenesisStartTimestamp() []byte {
	return withVer("genesis_start_timestamp")
}
