// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package pdfproc

import (
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// objcache is the Reader's read-through object cache. Entries are keyed
// by object number alone and live for the life of the Reader; nothing
// is ever evicted. Failures are cached too, so a broken object is
// parsed once and reports the same error on every access.
//
// Concurrent first-time loads of the same object number are collapsed
// with singleflight, so the expensive seek+parse+decode happens at most
// once per object.
type objcache struct {
	mu      sync.RWMutex
	vals    map[uint32]cachedValue
	streams map[uint32]cachedStream
	group   singleflight.Group
}

type cachedValue struct {
	v   Value
	err error
}

type cachedStream struct {
	data []byte
	err  error
}

func newObjCache() *objcache {
	return &objcache{
		vals:    make(map[uint32]cachedValue),
		streams: make(map[uint32]cachedStream),
	}
}

func (c *objcache) value(id uint32, load func() (Value, error)) (Value, error) {
	c.mu.RLock()
	if e, ok := c.vals[id]; ok {
		c.mu.RUnlock()
		return e.v, e.err
	}
	c.mu.RUnlock()

	vi, _, _ := c.group.Do("v"+strconv.FormatUint(uint64(id), 10), func() (interface{}, error) {
		c.mu.RLock()
		if e, ok := c.vals[id]; ok {
			c.mu.RUnlock()
			return e, nil
		}
		c.mu.RUnlock()
		v, err := load()
		e := cachedValue{v: v, err: err}
		c.mu.Lock()
		c.vals[id] = e
		c.mu.Unlock()
		return e, nil
	})
	e := vi.(cachedValue)
	return e.v, e.err
}

func (c *objcache) stream(id uint32, load func() ([]byte, error)) ([]byte, error) {
	c.mu.RLock()
	if e, ok := c.streams[id]; ok {
		c.mu.RUnlock()
		return e.data, e.err
	}
	c.mu.RUnlock()

	vi, _, _ := c.group.Do("s"+strconv.FormatUint(uint64(id), 10), func() (interface{}, error) {
		c.mu.RLock()
		if e, ok := c.streams[id]; ok {
			c.mu.RUnlock()
			return e, nil
		}
		c.mu.RUnlock()
		data, err := load()
		e := cachedStream{data: data, err: err}
		c.mu.Lock()
		c.streams[id] = e
		c.mu.Unlock()
		return e, nil
	})
	e := vi.(cachedStream)
	return e.data, e.err
}

// StreamBytes resolves the object with the given number and generation
// and returns its fully decoded stream contents. The decoded bytes are
// cached alongside the object. A DecodeError leaves the stream's
// dictionary and raw bytes reachable through Get and RawStreamBytes.
func (r *Reader) StreamBytes(num uint32, gen uint16) ([]byte, error) {
	v, err := r.Get(num, gen)
	if err != nil {
		return nil, err
	}
	stm, ok := v.data.(stream)
	if !ok {
		return nil, &ParseError{Msg: "object is not a stream"}
	}
	return r.cache.stream(num, func() ([]byte, error) {
		return r.streamContents(stm)
	})
}

// RawStreamBytes is like StreamBytes but skips the filter pipeline,
// returning the undecoded byte range of the stream body. It is the
// degraded-access path after a DecodeError.
func (r *Reader) RawStreamBytes(num uint32, gen uint16) ([]byte, error) {
	v, err := r.Get(num, gen)
	if err != nil {
		return nil, err
	}
	stm, ok := v.data.(stream)
	if !ok {
		return nil, &ParseError{Msg: "object is not a stream"}
	}
	return r.rawStreamContents(stm)
}
