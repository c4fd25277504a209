/******************************************************************************
 *
 *  Description :
 *    Typed binary field encodings. Every value on the wire is built
 *    from these primitives: big-endian fixed-width integers, one-byte
 *    booleans, length-prefixed UTF-8 strings, raw 16-byte identifiers,
 *    millisecond timestamps, presence-prefixed nullables and counted
 *    collections. The field layout is the compatibility contract;
 *    nothing here is self-describing.
 *
 *****************************************************************************/

package wire

import (
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/parley-im/parley/server/store/types"
)

var (
	// ErrTooLong reports a length prefix above the sanity limit,
	// usually a sign of a corrupted or hostile stream.
	ErrTooLong = errors.New("wire: length prefix too large")

	// ErrBadResponse reports a response op code other than the one the
	// caller expected.
	ErrBadResponse = errors.New("wire: unexpected response code")
)

// Sanity limits for length prefixes. A stream claiming more is treated
// as corrupt rather than trusted with the allocation.
const (
	maxStringLen     = 1 << 20
	maxCollectionLen = 1 << 18
)

func WriteInt32(w io.Writer, v int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	_, err := w.Write(buf[:])
	return err
}

func ReadInt32(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

func WriteInt64(w io.Writer, v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

func ReadInt64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

func WriteBool(w io.Writer, v bool) error {
	b := [1]byte{0}
	if v {
		b[0] = 1
	}
	_, err := w.Write(b[:])
	return err
}

func ReadBool(r io.Reader) (bool, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return false, err
	}
	return buf[0] != 0, nil
}

// WriteString writes a 32-bit byte length followed by UTF-8 bytes.
func WriteString(w io.Writer, s string) error {
	if err := WriteInt32(w, int32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func ReadString(r io.Reader) (string, error) {
	n, err := ReadInt32(r)
	if err != nil {
		return "", err
	}
	if n < 0 || n > maxStringLen {
		return "", ErrTooLong
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteUid writes the raw 16 identifier bytes. ZeroUid is the encoded
// NULL reference.
func WriteUid(w io.Writer, uid types.Uid) error {
	_, err := w.Write(uid[:])
	return err
}

func ReadUid(r io.Reader) (types.Uid, error) {
	var uid types.Uid
	_, err := io.ReadFull(r, uid[:])
	return uid, err
}

// WriteTime writes a timestamp as 64-bit milliseconds since epoch.
// The zero time encodes as 0.
func WriteTime(w io.Writer, t time.Time) error {
	var ms int64
	if !t.IsZero() {
		ms = t.UnixMilli()
	}
	return WriteInt64(w, ms)
}

func ReadTime(r io.Reader) (time.Time, error) {
	ms, err := ReadInt64(r)
	if err != nil {
		return time.Time{}, err
	}
	if ms == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms).UTC(), nil
}

// WriteMaybeTime writes a presence byte, then the value if present.
func WriteMaybeTime(w io.Writer, t time.Time, present bool) error {
	if err := WriteBool(w, present); err != nil {
		return err
	}
	if !present {
		return nil
	}
	return WriteTime(w, t)
}

// ReadMaybeTime reads a presence-prefixed timestamp. Absent values
// return the zero time and present == false.
func ReadMaybeTime(r io.Reader) (time.Time, bool, error) {
	present, err := ReadBool(r)
	if err != nil || !present {
		return time.Time{}, false, err
	}
	t, err := ReadTime(r)
	return t, err == nil, err
}

// WriteMaybeString writes a presence byte, then the value if present.
func WriteMaybeString(w io.Writer, s string, present bool) error {
	if err := WriteBool(w, present); err != nil {
		return err
	}
	if !present {
		return nil
	}
	return WriteString(w, s)
}

// ReadMaybeString reads a presence-prefixed string.
func ReadMaybeString(r io.Reader) (string, bool, error) {
	present, err := ReadBool(r)
	if err != nil || !present {
		return "", false, err
	}
	s, err := ReadString(r)
	return s, err == nil, err
}

// WriteUidSlice writes a 32-bit count followed by the identifiers.
func WriteUidSlice(w io.Writer, uids []types.Uid) error {
	if err := WriteInt32(w, int32(len(uids))); err != nil {
		return err
	}
	for _, uid := range uids {
		if err := WriteUid(w, uid); err != nil {
			return err
		}
	}
	return nil
}

func ReadUidSlice(r io.Reader) ([]types.Uid, error) {
	n, err := ReadInt32(r)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > maxCollectionLen {
		return nil, ErrTooLong
	}
	out := make([]types.Uid, 0, n)
	for i := int32(0); i < n; i++ {
		uid, err := ReadUid(r)
		if err != nil {
			return nil, err
		}
		out = append(out, uid)
	}
	return out, nil
}

// WriteUidTimeMap writes a 32-bit pair count followed by key/value
// pairs. Pairs are written in the map's iteration order; readers must
// not rely on ordering.
func WriteUidTimeMap(w io.Writer, m map[types.Uid]time.Time) error {
	if err := WriteInt32(w, int32(len(m))); err != nil {
		return err
	}
	for uid, t := range m {
		if err := WriteUid(w, uid); err != nil {
			return err
		}
		if err := WriteTime(w, t); err != nil {
			return err
		}
	}
	return nil
}

func ReadUidTimeMap(r io.Reader) (map[types.Uid]time.Time, error) {
	n, err := ReadInt32(r)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > maxCollectionLen {
		return nil, ErrTooLong
	}
	out := make(map[types.Uid]time.Time, n)
	for i := int32(0); i < n; i++ {
		uid, err := ReadUid(r)
		if err != nil {
			return nil, err
		}
		t, err := ReadTime(r)
		if err != nil {
			return nil, err
		}
		out[uid] = t
	}
	return out, nil
}
