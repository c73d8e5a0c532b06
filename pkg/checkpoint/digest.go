package checkpoint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"shadowstat/internal/models"
)

// Digest accumulates the inputs of a stage into a SHA-256 identity.
// Two stages share checkpoints only when every array and parameter fed into
// their digests is byte-identical.
type Digest struct {
	label  string
	arrays [][]byte
	params map[string]string
}

// NewDigest starts a digest for the given label
func NewDigest(label string) *Digest {
	return &Digest{label: label, params: make(map[string]string)}
}

// Floats adds a float64 array with its shape
func (d *Digest) Floats(name string, data []float64, shape ...int) *Digest {
	buf := header(name, "f64", len(data), shape)
	var b [8]byte
	for _, v := range data {
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
		buf = append(buf, b[:]...)
	}
	d.arrays = append(d.arrays, buf)
	return d
}

// Field adds the data of a field. A nil field is recorded as absent.
func (d *Digest) Field(name string, f *models.Field) *Digest {
	if f == nil {
		d.arrays = append(d.arrays, header(name, "nil", 0, nil))
		return d
	}
	d.Floats(name, f.Data, f.Height, f.Width)
	return d.Float(name+".scale", f.Scale)
}

// Mask adds a boolean mask. A nil mask is recorded as absent.
func (d *Digest) Mask(name string, m *models.Mask) *Digest {
	if m == nil {
		d.arrays = append(d.arrays, header(name, "nil", 0, nil))
		return d
	}
	buf := header(name, "bool", len(m.Bits), []int{m.Height, m.Width})
	for _, on := range m.Bits {
		if on {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	d.arrays = append(d.arrays, buf)
	return d
}

// Ints adds an int array
func (d *Digest) Ints(name string, data []int) *Digest {
	buf := header(name, "i64", len(data), nil)
	var b [8]byte
	for _, v := range data {
		binary.LittleEndian.PutUint64(b[:], uint64(int64(v)))
		buf = append(buf, b[:]...)
	}
	d.arrays = append(d.arrays, buf)
	return d
}

// Float adds a scalar parameter
func (d *Digest) Float(key string, v float64) *Digest {
	d.params[key] = "f:" + strconv.FormatFloat(v, 'g', -1, 64)
	return d
}

// Int adds an integer parameter
func (d *Digest) Int(key string, v int64) *Digest {
	d.params[key] = "i:" + strconv.FormatInt(v, 10)
	return d
}

// String adds a string parameter
func (d *Digest) String(key, v string) *Digest {
	d.params[key] = "s:" + v
	return d
}

// Bool adds a boolean parameter
func (d *Digest) Bool(key string, v bool) *Digest {
	d.params[key] = "b:" + strconv.FormatBool(v)
	return d
}

// Sum returns the hex digest. Arrays hash in insertion order, parameters
// in key order.
func (d *Digest) Sum() string {
	h := sha256.New()
	writeString(h, d.label)
	for _, a := range d.arrays {
		h.Write(a)
	}
	keys := make([]string, 0, len(d.params))
	for k := range d.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeString(h, k)
		writeString(h, d.params[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func header(name, tag string, n int, shape []int) []byte {
	buf := []byte(fmt.Sprintf("%d:%s|%s|%d|", len(name), name, tag, n))
	for _, s := range shape {
		buf = strconv.AppendInt(buf, int64(s), 10)
		buf = append(buf, 'x')
	}
	return append(buf, '|')
}

func writeString(w io.Writer, s string) {
	w.Write([]byte(strconv.Itoa(len(s))))
	w.Write([]byte{':'})
	w.Write([]byte(s))
}
