package astisi

import (
	"io"

	"github.com/icza/bitio"
	"github.com/pkg/errors"
)

// WriteBinary writes a "10110..." bit string
func WriteBinary(w *bitio.Writer, str string) error {
	for _, r := range str {
		switch r {
		case '1':
			w.TryWriteBool(true)
		case '0':
			w.TryWriteBool(false)
		default:
			return errors.Errorf("astisi: invalid rune %q in bit string", r)
		}
	}
	return w.TryError
}

// TryReadFull fills p, folding short reads into the reader's sticky error
func TryReadFull(r *bitio.CountReader, p []byte) {
	if r.TryError == nil {
		_, r.TryError = io.ReadFull(r, p)
	}
}
