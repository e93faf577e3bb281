package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"stratadb/src/helpers"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/sys/unix"
)

// groupImage is the fully materialized content of one database: every
// table with its column layout and rows. Commits persist the whole
// image as a BSON document.
type groupImage struct {
	Tables []*tableImage `bson:"tables"`
}

type tableImage struct {
	Name    string          `bson:"name"`
	Columns []columnImage   `bson:"columns"`
	Rows    [][]interface{} `bson:"rows"`
}

type columnImage struct {
	Name     string     `bson:"name"`
	Type     ColumnType `bson:"type"`
	Target   string     `bson:"target,omitempty"`
	Nullable bool       `bson:"nullable"`
	Indexed  bool       `bson:"indexed"`
}

func newGroupImage() *groupImage {
	return &groupImage{}
}

func (img *groupImage) table(name string) *tableImage {
	for _, t := range img.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// clone produces an independent deep copy. Cell values are copied where
// mutable ([]byte, link lists); scalar cells are immutable and shared.
func (img *groupImage) clone() *groupImage {
	c := &groupImage{Tables: make([]*tableImage, len(img.Tables))}
	for i, t := range img.Tables {
		ct := &tableImage{
			Name:    t.Name,
			Columns: append([]columnImage(nil), t.Columns...),
			Rows:    make([][]interface{}, len(t.Rows)),
		}
		for r, row := range t.Rows {
			crow := make([]interface{}, len(row))
			for col, v := range row {
				crow[col] = cloneValue(v)
			}
			ct.Rows[r] = crow
		}
		c.Tables[i] = ct
	}
	return c
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		return append([]byte(nil), val...)
	case []int64:
		return append([]int64(nil), val...)
	default:
		return v
	}
}

// normalize rewrites cell values decoded from BSON into their canonical
// in-memory representation for each column type.
func (img *groupImage) normalize() error {
	for _, t := range img.Tables {
		for _, row := range t.Rows {
			for col := range row {
				if col >= len(t.Columns) {
					return fmt.Errorf("table %s: row wider than column layout", t.Name)
				}
				v, err := normalizeValue(t.Columns[col].Type, row[col])
				if err != nil {
					return fmt.Errorf("table %s column %s: %w", t.Name, t.Columns[col].Name, err)
				}
				row[col] = v
			}
		}
	}
	return nil
}

// normalizeValue converts a decoded or caller-supplied value to the
// canonical representation of the column type. nil passes through for
// every type; nullability is enforced by the layers above.
func normalizeValue(t ColumnType, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case ColInt, ColLink:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		}
	case ColBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case ColFloat:
		switch n := v.(type) {
		case float32:
			return float64(n), nil
		case float64:
			return n, nil
		}
	case ColString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case ColData:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case primitive.Binary:
			return b.Data, nil
		}
	case ColDate:
		switch d := v.(type) {
		case time.Time:
			return d, nil
		case primitive.DateTime:
			return d.Time(), nil
		}
	case ColLinkList:
		switch l := v.(type) {
		case []int64:
			return l, nil
		case primitive.A:
			links := make([]int64, 0, len(l))
			for _, e := range l {
				n, err := normalizeValue(ColLink, e)
				if err != nil {
					return nil, err
				}
				links = append(links, n.(int64))
			}
			return links, nil
		}
	case ColAny:
		return v, nil
	}
	return nil, fmt.Errorf("value %T does not fit column type %s", v, t)
}

// zeroValue is the cell content of a freshly added row or column.
func zeroValue(c columnImage) interface{} {
	if c.Nullable {
		return nil
	}
	switch c.Type {
	case ColInt:
		return int64(0)
	case ColBool:
		return false
	case ColFloat:
		return float64(0)
	case ColString:
		return ""
	case ColData:
		return []byte{}
	case ColDate:
		return time.Time{}
	case ColLinkList:
		return []int64{}
	default:
		// links and any default to no value
		return nil
	}
}

// On-disk framing: magic, one format flag byte, then the BSON image,
// sealed when the flag says so.
var fileMagic = []byte("STRATA1\n")

const (
	formatPlain  = 0x00
	formatSealed = 0x01
)

// sealKey derives the 32-byte cipher key from the caller's opaque key
// blob.
func sealKey(key []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, key, nil, []byte("stratadb group image"))
	derived := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, derived); err != nil {
		return nil, fmt.Errorf("error deriving file key: %w", err)
	}
	return derived, nil
}

func encodeImage(img *groupImage, key []byte) ([]byte, error) {
	payload, err := helpers.EncodeBSON(img)
	if err != nil {
		return nil, fmt.Errorf("error encoding group image: %w", err)
	}

	out := append([]byte(nil), fileMagic...)
	if len(key) == 0 {
		out = append(out, formatPlain)
		return append(out, payload...), nil
	}

	derived, err := sealKey(key)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(derived)
	if err != nil {
		return nil, fmt.Errorf("error creating cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("error generating nonce: %w", err)
	}
	out = append(out, formatSealed)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, payload, fileMagic), nil
}

func decodeImage(data, key []byte) (*groupImage, error) {
	if len(data) < len(fileMagic)+1 || string(data[:len(fileMagic)]) != string(fileMagic) {
		return nil, fmt.Errorf("not a stratadb file")
	}
	format := data[len(fileMagic)]
	payload := data[len(fileMagic)+1:]

	switch format {
	case formatPlain:
		if len(key) != 0 {
			return nil, ErrInvalidKey
		}
	case formatSealed:
		if len(key) == 0 {
			return nil, ErrInvalidKey
		}
		derived, err := sealKey(key)
		if err != nil {
			return nil, err
		}
		aead, err := chacha20poly1305.NewX(derived)
		if err != nil {
			return nil, fmt.Errorf("error creating cipher: %w", err)
		}
		if len(payload) < aead.NonceSize() {
			return nil, fmt.Errorf("truncated sealed file")
		}
		nonce, box := payload[:aead.NonceSize()], payload[aead.NonceSize():]
		payload, err = aead.Open(nil, nonce, box, fileMagic)
		if err != nil {
			return nil, ErrInvalidKey
		}
	default:
		return nil, fmt.Errorf("unknown file format byte 0x%02x", format)
	}

	img := newGroupImage()
	if err := helpers.DecodeBSON(payload, img); err != nil {
		return nil, fmt.Errorf("error decoding group image: %w", err)
	}
	if err := img.normalize(); err != nil {
		return nil, err
	}
	return img, nil
}

// writeImageFile writes the encoded image to path atomically, holding
// an advisory lock on a sibling lock file for the duration so writers
// in other processes serialize with us.
func writeImageFile(path string, data []byte) error {
	unlock, err := lockFile(path)
	if err != nil {
		return err
	}
	defer unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("error writing data file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("error replacing data file %s: %w", path, err)
	}
	return nil
}

func readImageFile(path string, key []byte) (*groupImage, error) {
	unlock, err := lockFile(path)
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading data file %s: %w", path, err)
	}
	return decodeImage(data, key)
}

func lockFile(path string) (func(), error) {
	lockPath := path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("error creating data directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening lock file %s: %w", lockPath, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("error locking %s: %w", lockPath, err)
	}
	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}
