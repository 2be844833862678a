package mempool

import (
	"bytes"
	"sync"
)

// bufferPools holds sized pools for the buffers the encoder and upload
// client churn through on every capture. Key: size class (int), value:
// *sync.Pool of *bytes.Buffer.
var bufferPools sync.Map

const (
	minClass = 64 << 10
	step     = 64 << 10
	// Buffers that grew past this are dropped instead of pinned in a pool.
	maxPooled = 32 << 20
)

// sizeClass rounds n up to the next 64 KiB bucket.
func sizeClass(n int) int {
	if n <= minClass {
		return minClass
	}
	r := (n + step - 1) / step
	return r * step
}

func bufferPool(cls int) *sync.Pool {
	pAny, _ := bufferPools.LoadOrStore(cls, &sync.Pool{New: func() any {
		return bytes.NewBuffer(make([]byte, 0, cls))
	}})
	p, _ := pAny.(*sync.Pool)
	return p
}

// GetBuffer returns an empty *bytes.Buffer with capacity for at least n bytes.
// The caller must hand it back via PutBuffer.
func GetBuffer(n int) *bytes.Buffer {
	cls := sizeClass(n)
	p := bufferPool(cls)
	if p == nil {
		return bytes.NewBuffer(make([]byte, 0, cls))
	}
	buf, ok := p.Get().(*bytes.Buffer)
	if !ok {
		buf = bytes.NewBuffer(make([]byte, 0, cls))
	}
	buf.Reset()
	if buf.Cap() < n {
		buf.Grow(n)
	}
	return buf
}

// PutBuffer returns a buffer to the pool. It is safe to pass nil.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooled {
		return
	}
	buf.Reset()
	if p := bufferPool(sizeClass(buf.Cap())); p != nil {
		p.Put(buf) //nolint:staticcheck
	}
}
