package frame

import (
	"bytes"
	"sync"
)

type bufferPool struct {
	pool *sync.Pool
}

func newBufferPool() *bufferPool {
	return &bufferPool{
		pool: &sync.Pool{
			New: func() any { return new(bytes.Buffer) },
		},
	}
}

func (b *bufferPool) Get() *bytes.Buffer {
	return b.pool.Get().(*bytes.Buffer)
}

func (b *bufferPool) Put(buf *bytes.Buffer) {
	buf.Reset()
	b.pool.Put(buf)
}

var buffers = newBufferPool()

// GetBuffer borrows a scratch buffer from the codec's shared pool.
func GetBuffer() *bytes.Buffer {
	return buffers.Get()
}

// PutBuffer returns a buffer obtained from GetBuffer.
func PutBuffer(buf *bytes.Buffer) {
	buffers.Put(buf)
}
