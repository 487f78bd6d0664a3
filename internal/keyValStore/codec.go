package keyValStore

import (
	"bytes"
	"encoding/binary"
	"strconv"

	"github.com/pkg/errors"
	"github.com/ulikunitz/xz/lzma"
)

const (
	codecRaw  byte = 0
	codecLZMA byte = 1
)

var (
	schemaVersionKey  = []byte("__schema/version")
	storeMarkerPrefix = "__schema/store/"
	dataPrefix        = "s/"
)

func storeMarkerKey(storeName string) []byte {
	return []byte(storeMarkerPrefix + storeName)
}

// storePrefix is the key prefix of all entries of one store. The length of
// the name is part of the prefix, so no prefix is a prefix of another store's
// keys whatever the names contain.
func storePrefix(storeName string) []byte {
	return []byte(dataPrefix + strconv.Itoa(len(storeName)) + ":" + storeName + "/")
}

func dataKey(storeName, key string) []byte {
	return append(storePrefix(storeName), key...)
}

func encodeVersion(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeVersion(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, errors.Wrapf(ErrCorruptValue, "schema version has %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// encodeValue prefixes value with its codec tag.
func encodeValue(value []byte, compress bool) ([]byte, error) {
	if !compress {
		out := make([]byte, 0, len(value)+1)
		out = append(out, codecRaw)
		return append(out, value...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(codecLZMA)
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err = w.Write(value); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeValue(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, errors.Wrap(ErrCorruptValue, "missing codec tag")
	}

	switch raw[0] {
	case codecRaw:
		out := make([]byte, len(raw)-1)
		copy(out, raw[1:])
		return out, nil
	case codecLZMA:
		r, err := lzma.NewReader(bytes.NewReader(raw[1:]))
		if err != nil {
			return nil, errors.Wrap(ErrCorruptValue, err.Error())
		}
		var buf bytes.Buffer
		if _, err = buf.ReadFrom(r); err != nil {
			return nil, errors.Wrap(ErrCorruptValue, err.Error())
		}
		return buf.Bytes(), nil
	default:
		return nil, errors.Wrapf(ErrCorruptValue, "unknown codec tag %d", raw[0])
	}
}
