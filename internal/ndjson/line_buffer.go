package ndjson

import "bytes"

const maxPendingLine = 1 << 20

// LineBuffer separa lineas completas de chunks arbitrarios y guarda la linea
// parcial hasta el proximo chunk.
type LineBuffer struct {
	pending []byte
}

// Feed agrega chunk y llama fn por cada linea completa no vacia.
func (b *LineBuffer) Feed(chunk []byte, fn func(line []byte)) {
	b.pending = append(b.pending, chunk...)
	for {
		idx := bytes.IndexByte(b.pending, '\n')
		if idx < 0 {
			break
		}
		if line := bytes.TrimSpace(b.pending[:idx]); len(line) > 0 {
			fn(line)
		}
		b.pending = b.pending[idx+1:]
	}
	if len(b.pending) > maxPendingLine {
		b.pending = nil
	}
}

// Flush entrega la linea parcial restante, si la hay.
func (b *LineBuffer) Flush(fn func(line []byte)) {
	if line := bytes.TrimSpace(b.pending); len(line) > 0 {
		fn(line)
	}
	b.pending = nil
}
