package state

import "encoding/binary"

var (
	accountPrefix        = []byte("account/")
	accessKeysPrefix     = []byte("access/keys/")
	auctionRecordPrefix  = []byte("auction/record/")
	auctionListingPrefix = []byte("auction/listing/")
	houseConfigKey       = []byte("house/config")
	outboxHeadKey        = []byte("outbox/head")
	outboxTailKey        = []byte("outbox/tail")
	outboxGroupPrefix    = []byte("outbox/group/")
	chainHeightKey       = []byte("chain/height")
)

func prefixed(prefix []byte, suffix []byte) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return buf
}

func accountKey(addr []byte) []byte { return prefixed(accountPrefix, addr) }

func accessKeysKey(account [20]byte) []byte { return prefixed(accessKeysPrefix, account[:]) }

func auctionRecordKey(id [32]byte) []byte { return prefixed(auctionRecordPrefix, id[:]) }

func auctionListingKey(asset [20]byte) []byte { return prefixed(auctionListingPrefix, asset[:]) }

// outboxGroupKey uses a big-endian sequence so groups sort in FIFO order.
func outboxGroupKey(seq uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return prefixed(outboxGroupPrefix, buf[:])
}
