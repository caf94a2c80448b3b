package schemadb

import (
	"bytes"
	"sync"
)

var encodeBufPool = &sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 65536))
	},
}

func getEncodeBuf() *bytes.Buffer {
	buf := encodeBufPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// releaseEncodeBuf returns buf to the pool; its contents must not be used
// afterwards.
func releaseEncodeBuf(buf *bytes.Buffer) {
	if buf.Cap() > 4*1024*1024 {
		return
	}
	encodeBufPool.Put(buf)
}
