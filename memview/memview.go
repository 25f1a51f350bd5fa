package memview

import (
	"bytes"
	"io"
)

// MemView represents a "view" on a collection of byte slices. Conceptually,
// you may think of it as a [][]byte, with helper methods to make it seem like
// one contiguous []byte. It is designed to help minimize the amount of
// copying when dealing with large buffers of data.
//
// Modifying a MemView does not change the underlying data. Instead, it simply
// changes the pointers to where to read data from.
//
// Copying a MemView or passing MemView by value is like copying a slice -
// it's efficient, but modifications to the copy affect the original MemView
// and vice versa. Use `DeepCopy` to create a completely independent MemView.
//
// The zero value is an empty MemView ready to use.
type MemView struct {
	buf    [][]byte
	length int64
}

// The new MemView does NOT make a copy of data, so the caller MUST ensure
// that the underlying memory of data remains valid and unmodified after this
// call returns.
func New(data []byte) MemView {
	return MemView{
		buf:    [][]byte{data},
		length: int64(len(data)),
	}
}

// Make an empty MemView.
func Empty() MemView {
	return MemView{
		buf:    [][]byte{},
		length: 0,
	}
}

func (dst *MemView) Append(src MemView) {
	dst.buf = append(dst.buf, src.buf...)
	dst.length += src.length
}

// Creates a MemView that is completely independent from the current one.
func (mv MemView) DeepCopy() MemView {
	newBuf := make([][]byte, len(mv.buf))
	copy(newBuf, mv.buf)
	return MemView{
		buf:    newBuf,
		length: mv.length,
	}
}

func (mv *MemView) CreateReader() *MemViewReader {
	return &MemViewReader{mv: mv}
}

func (mv *MemView) Clear() {
	mv.buf = mv.buf[:0] // clear without reallocating memory
	mv.length = 0
}

func (mv MemView) Len() int64 {
	return mv.length
}

// Returns the byte at the given index. Returns 0 if index is out of bounds.
func (mv MemView) GetByte(index int64) byte {
	if index < 0 {
		return 0
	}

	n := index
	for i := 0; i < len(mv.buf); i++ {
		lb := int64(len(mv.buf[i]))
		if n < lb {
			return mv.buf[i][n]
		}
		n -= lb
	}
	return 0
}

// Returns a copy of mv[start:end]. Returns nil if start is negative, start >
// end, or end is out of bounds.
func (mv MemView) getBytes(start, end int64) []byte {
	if !(0 <= start && start <= end && end <= mv.Len()) {
		return nil
	}

	result := make([]byte, end-start)
	resultIdx := int64(0) // Points to the next result byte to be written.

	for bufIdx := 0; bufIdx < len(mv.buf) && start < end; bufIdx++ {
		bufLen := int64(len(mv.buf[bufIdx]))
		if start >= bufLen {
			// Current buffer is before the part to be copied.
			start -= bufLen
			end -= bufLen
			continue
		}

		copyEnd := end
		if copyEnd > bufLen {
			copyEnd = bufLen
		}

		copy(result[resultIdx:], mv.buf[bufIdx][start:copyEnd])

		copySize := copyEnd - start
		start = 0
		end -= bufLen
		resultIdx += copySize
	}

	return result
}

// Returns a copy of all the data referenced by this MemView as a single
// contiguous slice.
func (mv MemView) Bytes() []byte {
	return mv.getBytes(0, mv.Len())
}

// Returns mv[start:end] (end is not inclusive). Returns an empty MemView if
// range is invalid.
func (mv MemView) SubView(start, end int64) MemView {
	if start >= end {
		return MemView{}
	}

	startBuf := -1
	endBuf := -1
	var startOffset, endOffset int

	var n int64
	for i, b := range mv.buf {
		lb := int64(len(b))
		if startBuf == -1 && n+lb > start {
			startBuf = i
			startOffset = int(start - n)
		}
		if endBuf == -1 && n+lb >= end { // >= because end is not inclusive
			endBuf = i
			endOffset = int(end - n)
			break
		}
		n += lb
	}

	if startBuf == -1 || endBuf == -1 {
		return MemView{}
	}

	newBuf := make([][]byte, endBuf+1-startBuf)
	copy(newBuf, mv.buf[startBuf:endBuf+1])
	newMS := MemView{
		buf:    newBuf,
		length: end - start,
	}
	if len(newMS.buf) == 1 {
		newMS.buf[0] = newMS.buf[0][startOffset:endOffset]
	} else {
		newMS.buf[0] = newMS.buf[0][startOffset:]
		newMS.buf[len(newMS.buf)-1] = newMS.buf[len(newMS.buf)-1][:endOffset]
	}
	return newMS
}

// Index returns the index of the first instance of sep in mv after start
// index, or -1 if sep is not present in mv.
func (mv MemView) Index(start int64, sep []byte) int64 {
	// Find the first buffer to start from.
	startBuf := -1
	startOffset := 0
	var currIndex int64
	for i, b := range mv.buf {
		lb := int64(len(b))
		if currIndex+lb-1 < start { // -1 because start is an index
			currIndex += lb
		} else {
			startBuf = i
			startOffset = int(start - currIndex)
			currIndex += int64(startOffset)
			break
		}
	}

	if startBuf == -1 {
		return -1
	} else if len(sep) == 0 {
		return start
	}

	// Iteratively search for the target, keeping in mind that the target may
	// be spread over multiple slices in mv.buf.
	//
	// Only correct for search strings without a repeated prefix; the line
	// terminators and command keywords we search for all qualify.
	needle := sep
	needleIndex := 0
	for b := startBuf; b < len(mv.buf); b++ {
		haystack := mv.buf[b]
		// Check remainder of needle if overlap from last buffer
		var i int = 0
		for i = startOffset; i < len(haystack) && needleIndex > 0; i++ {
			if haystack[i] == needle[needleIndex] {
				needleIndex += 1
				if needleIndex == len(needle) {
					// Found, figure out start index.
					// At the start of the 'i' loop, it points to currIndex, so
					// we need to add i and subtract startOffset. Then move
					// back to the first character in the needle.
					return currIndex + int64(i-startOffset) - int64(len(needle)-1)
				}
			} else {
				needleIndex = 0
			}
		}

		// Did we reach the end of the buffer already?
		if i < len(haystack) {
			// If not, efficient check of remaining portion of haystack
			found := bytes.Index(haystack[i:], needle)
			if found != -1 {
				return currIndex + int64(found)
			}

			// Check the end of the haystack for the start of the needle
			// (but not the whole thing, or we would have found it in the call
			// above.)
			needleStart := len(haystack) - len(needle) + 1
			if i < needleStart {
				i = needleStart
			}
			for ; i < len(haystack); i++ {
				if haystack[i] == needle[needleIndex] {
					needleIndex += 1
				} else {
					needleIndex = 0
				}
			}
		}

		// Searched all of buffer
		currIndex += int64(len(haystack) - startOffset)
		startOffset = 0
	}

	return -1
}

// Returns a string of all the data referenced by this MemView. Note that this
// creates a COPY of the underlying data.
func (mv MemView) String() string {
	var buf bytes.Buffer
	io.Copy(&buf, mv.CreateReader())
	return buf.String()
}

func (left MemView) Equal(right MemView) bool {
	if left.length != right.length {
		return false
	}

	leftBufIdx := 0
	leftBufOffset := 0
	rightBufIdx := 0
	rightBufOffset := 0
	for idx := int64(0); idx < left.length; idx++ {
		// Assume both MemViews are internally consistent, so we don't need to
		// do any bounds checks on left.buf and right.buf.

		// Seek through the buffers on each side until we find the next byte.
		for leftBufOffset >= len(left.buf[leftBufIdx]) {
			leftBufIdx++
			leftBufOffset = 0
		}
		for rightBufOffset >= len(right.buf[rightBufIdx]) {
			rightBufIdx++
			rightBufOffset = 0
		}

		if left.buf[leftBufIdx][leftBufOffset] != right.buf[rightBufIdx][rightBufOffset] {
			return false
		}

		leftBufOffset++
		rightBufOffset++
	}

	return true
}

type MemViewReader struct {
	mv *MemView

	// Index for the element from mv.buf to read next.
	rIndex int

	// Offset into mv.buf[rIndex] for the next read.
	rOffset int

	// Global offset into mv for the next read.
	gOffset int64
}

var _ io.Reader = (*MemViewReader)(nil)

func (r *MemViewReader) ReadByte() (byte, error) {
	if r.rIndex >= len(r.mv.buf) {
		return 0, io.EOF
	}

	for i := r.rIndex; i < len(r.mv.buf); i++ {
		curBuf := r.mv.buf[r.rIndex]
		if r.rOffset < len(curBuf) {
			result := curBuf[r.rOffset]
			r.rOffset++
			r.gOffset++
			return result, nil
		} else {
			r.rIndex++
			r.rOffset = 0
		}
	}

	return 0, io.EOF
}

// If MemView has no data to return, err is io.EOF (unless len(out) is zero),
// otherwise it is nil. This behavior matches that of bytes.Buffer.
func (r *MemViewReader) Read(out []byte) (int, error) {
	if len(out) == 0 {
		return 0, nil
	} else if r.rIndex >= len(r.mv.buf) { // really just ==, but use >= to be safer
		return 0, io.EOF
	}

	bytesRead := 0
	for i := r.rIndex; i < len(r.mv.buf); i++ {
		curr := r.mv.buf[i][r.rOffset:]
		cp := copy(out[bytesRead:], curr)
		bytesRead += cp
		if cp == len(curr) {
			r.rIndex += 1
			r.rOffset = 0
			r.gOffset += int64(cp)
		} else {
			// If cp < len(curr), it means we've run out of output space.
			r.rOffset += cp
			r.gOffset += int64(cp)
			return bytesRead, nil
		}
	}

	// We've read something, so don't return EOF in case more data gets passed
	// to this MemView.
	return bytesRead, nil
}

// Make MemView more efficient as a source in io.Copy.
func (r *MemViewReader) WriteTo(dst io.Writer) (int64, error) {
	var bytesWritten int64
	for _, b := range r.mv.buf {
		n, err := dst.Write(b)
		bytesWritten += int64(n)
		if err != nil {
			return bytesWritten, err
		}
	}
	return bytesWritten, nil
}
