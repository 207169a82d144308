//go:build wasip1

package main

import "unsafe"

// buffers keeps allocations handed to the host reachable until freed.
var buffers = map[uint32][]byte{}

//go:wasmexport malloc
func malloc(size uint32) uint32 {
	if size == 0 {
		size = 1
	}
	buf := make([]byte, size)
	ptr := uint32(uintptr(unsafe.Pointer(&buf[0])))
	buffers[ptr] = buf
	return ptr
}

//go:wasmexport free
func free(ptr uint32) {
	delete(buffers, ptr)
}

// exportCombine returns (ptr << 32 | len) of the encoded result. The host frees ptr.
//
//go:wasmexport combine
func exportCombine(ptr, size uint32) uint64 {
	var input []byte
	if size > 0 {
		input = buffers[ptr][:size]
	}

	out := Combine(input)
	outPtr := malloc(uint32(len(out)))
	copy(buffers[outPtr], out)
	return uint64(outPtr)<<32 | uint64(len(out))
}
