package probe

import "errors"

// Memory is a bounded window into the traced process's address space, such
// as the buffer argument of a write call. Implementations must validate
// every access: the window may be unmapped, partially mapped, or racing with
// the process's own writes, so any byte read can fail. A failed read aborts
// whatever scan requested it.
type Memory interface {
	// ReadByte returns the byte at off within the window.
	ReadByte(off int) (byte, error)
	// Len returns the window length in bytes.
	Len() int
}

// ErrOutOfRange is returned for reads past the end of a memory window.
var ErrOutOfRange = errors.New("probe: read outside memory window")

type bytesMemory struct{ b []byte }

// MemoryFromBytes wraps an in-process byte slice as a Memory window. Used by
// the hooks layer when the shim ships buffer contents inline, and by tests.
func MemoryFromBytes(b []byte) Memory { return bytesMemory{b} }

func (m bytesMemory) ReadByte(off int) (byte, error) {
	if off < 0 || off >= len(m.b) {
		return 0, ErrOutOfRange
	}
	return m.b[off], nil
}

func (m bytesMemory) Len() int { return len(m.b) }

// contentLengthHeader is matched byte-for-byte, case sensitively.
const contentLengthHeader = "Content-Length: "

const maxContentLengthDigits = 10

// ExtractMethod scans up to min(MaxHTTPMethodLen, buf.Len()) bytes for the
// space terminating the request method. Every scan here and below runs a
// fixed constant number of iterations with early exit; the bounds are part
// of the parser contract, not an optimization. Returns false if no space is
// found within the bound or a read faults. The longest method returned is
// MaxHTTPMethodLen-1 bytes.
func ExtractMethod(buf Memory) (string, bool) {
	var method [MaxHTTPMethodLen]byte
	n := buf.Len()
	space := -1
	for i := 0; i < MaxHTTPMethodLen; i++ {
		if i >= n {
			break
		}
		c, err := buf.ReadByte(i)
		if err != nil {
			return "", false
		}
		if c == ' ' {
			space = i
			break
		}
		if i < MaxHTTPMethodLen-1 {
			method[i] = c
		}
	}
	if space < 0 {
		return "", false
	}
	return string(method[:space]), true
}

// ExtractURI scans up to min(MaxHTTPURILen, remaining) bytes starting just
// past the method's trailing space for the next space. Fails on a zero
// length URI, a missing space within the bound, or a read fault. The longest
// URI returned is MaxHTTPURILen-1 bytes.
func ExtractURI(buf Memory, methodLen int) (string, bool) {
	n := buf.Len()
	if n < methodLen+2 || methodLen >= n {
		return "", false
	}
	start := methodLen + 1
	remaining := n - start

	var uri [MaxHTTPURILen]byte
	uriLen := 0
	for i := 0; i < MaxHTTPURILen; i++ {
		if i >= remaining {
			break
		}
		c, err := buf.ReadByte(start + i)
		if err != nil {
			return "", false
		}
		if c == ' ' {
			uriLen = i
			break
		}
		if i < MaxHTTPURILen-1 {
			uri[i] = c
		}
	}
	if uriLen == 0 {
		return "", false
	}
	return string(uri[:uriLen]), true
}

// ExtractContentLength scans the first HTTPHeaderWindow bytes for an exact
// "Content-Length: " match and accumulates up to ten consecutive ASCII
// digits following it. The digit cap stops unbounded accumulation but does
// not guard the uint32 range: 10-digit values above 4294967295 wrap, which
// we document rather than reject. Returns 0 when the header is absent or a
// read faults mid-match.
func ExtractContentLength(buf Memory) uint32 {
	n := buf.Len()
	for i := 0; i < HTTPHeaderWindow; i++ {
		if i >= n-len(contentLengthHeader) {
			break
		}
		match := true
		for j := 0; j < len(contentLengthHeader); j++ {
			c, err := buf.ReadByte(i + j)
			if err != nil {
				return 0
			}
			if c != contentLengthHeader[j] {
				match = false
				break
			}
		}
		if !match {
			continue
		}

		var value uint32
		start := i + len(contentLengthHeader)
		for k := 0; k < maxContentLengthDigits; k++ {
			if start+k >= n {
				break
			}
			c, err := buf.ReadByte(start + k)
			if err != nil {
				break
			}
			if c < '0' || c > '9' {
				break
			}
			value = value*10 + uint32(c-'0')
		}
		return value
	}
	return 0
}
