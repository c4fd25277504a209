package types

import (
	sf "github.com/tinode/snowflake"
	"golang.org/x/crypto/xtea"
)

// UidGenerator holds snowflake and encryption parameters. A 128-bit id
// is built from two sequential snowflake values, each weakly encrypted
// so ids are random-looking.
type UidGenerator struct {
	seq    *sf.SnowFlake
	cipher *xtea.Cipher
}

// Init initialises the Uid generator. The key must be 16 bytes.
func (ug *UidGenerator) Init(workerID uint, key []byte) error {
	var err error

	if ug.seq == nil {
		ug.seq, err = sf.NewSnowFlake(uint32(workerID))
	}
	if ug.cipher == nil {
		ug.cipher, err = xtea.NewCipher(key)
	}

	return err
}

// Get generates a unique id. Returns ZeroUid if the generator was not
// initialized or the sequence failed.
func (ug *UidGenerator) Get() Uid {
	if ug.seq == nil || ug.cipher == nil {
		return ZeroUid
	}

	var uid Uid
	var src [8]byte
	for _, off := range []int{0, 8} {
		id, err := ug.seq.Next()
		if err != nil {
			return ZeroUid
		}
		src[0] = byte(id >> 56)
		src[1] = byte(id >> 48)
		src[2] = byte(id >> 40)
		src[3] = byte(id >> 32)
		src[4] = byte(id >> 24)
		src[5] = byte(id >> 16)
		src[6] = byte(id >> 8)
		src[7] = byte(id)
		ug.cipher.Encrypt(uid[off:off+8], src[:])
	}

	return uid
}

// GetStr generates a unique id and returns its base64 text form.
func (ug *UidGenerator) GetStr() string {
	return ug.Get().String()
}
