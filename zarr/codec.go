package zarr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/fractal-analytics-platform/zroi/zroi"
)

var (
	zstdDecoder, _ = zstd.NewReader(nil)
	zstdEncoder, _ = zstd.NewWriter(nil)
)

// decompress undoes the array's compressor.
func decompress(c *Compressor, in []byte) ([]byte, error) {
	if c == nil {
		return in, nil
	}
	switch c.ID {
	case "blosc":
		return bloscDecompress(in)
	case "zstd":
		return zstdUncompress(in)
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(in))
		if err != nil {
			return nil, fmt.Errorf("can't uncompress gzip data: %v", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case "zlib":
		return zlibUncompress(in)
	case "lz4":
		return lz4Uncompress(in)
	}
	return nil, fmt.Errorf("%w: compressor %q", zroi.ErrUnsupportedCodec, c.ID)
}

// compress applies the array's compressor.  Only the codecs zroi writes with
// are supported.
func compress(c *Compressor, in []byte) ([]byte, error) {
	if c == nil {
		return in, nil
	}
	switch c.ID {
	case "zstd":
		return zstdEncoder.EncodeAll(in, make([]byte, 0, len(in)/2)), nil
	case "gzip", "zlib":
		var buf bytes.Buffer
		level := c.Level
		if level == 0 {
			level = 1
		}
		var w io.WriteCloser
		var err error
		if c.ID == "gzip" {
			w, err = gzip.NewWriterLevel(&buf, level)
		} else {
			w, err = zlib.NewWriterLevel(&buf, level)
		}
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(in); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: writing with compressor %q", zroi.ErrUnsupportedCodec, c.ID)
}

func zstdUncompress(in []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(in, nil)
	if err != nil {
		return nil, fmt.Errorf("can't uncompress zstd data: %v", err)
	}
	return out, nil
}

func zlibUncompress(in []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, fmt.Errorf("can't uncompress zlib data: %v", err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// lz4Uncompress reads the numcodecs LZ4 framing: a little-endian uint32 with
// the uncompressed size followed by an LZ4 block.
func lz4Uncompress(in []byte) ([]byte, error) {
	if len(in) < 4 {
		return nil, fmt.Errorf("lz4 chunk of %d bytes is too short", len(in))
	}
	n := int(binary.LittleEndian.Uint32(in[:4]))
	out := make([]byte, n)
	got, err := lz4.UncompressBlock(in[4:], out)
	if err != nil {
		return nil, fmt.Errorf("can't uncompress lz4 data: %v", err)
	}
	return out[:got], nil
}

// Blosc header flags.
const (
	bloscShuffle    = 0x1
	bloscMemcpyed   = 0x2
	bloscBitShuffle = 0x4
	bloscDontSplit  = 0x10

	bloscHeaderSize = 16
	bloscMaxSplits  = 16
	bloscMinBuffer  = 128
)

// bloscDecompress decodes a c-blosc 1.x frame.  Inner codecs lz4, snappy,
// zlib and zstd are supported, as is byte shuffling.
func bloscDecompress(in []byte) ([]byte, error) {
	if len(in) < bloscHeaderSize {
		return nil, fmt.Errorf("blosc frame of %d bytes is too short", len(in))
	}
	flags := in[2]
	typesize := int(in[3])
	nbytes := int(binary.LittleEndian.Uint32(in[4:8]))
	blocksize := int(binary.LittleEndian.Uint32(in[8:12]))
	cbytes := int(binary.LittleEndian.Uint32(in[12:16]))
	if cbytes > len(in) {
		return nil, fmt.Errorf("blosc frame claims %d bytes, has %d", cbytes, len(in))
	}
	if flags&bloscMemcpyed != 0 {
		if bloscHeaderSize+nbytes > len(in) {
			return nil, fmt.Errorf("truncated memcpyed blosc frame")
		}
		return append([]byte(nil), in[bloscHeaderSize:bloscHeaderSize+nbytes]...), nil
	}
	if flags&bloscBitShuffle != 0 {
		return nil, fmt.Errorf("%w: blosc bitshuffle", zroi.ErrUnsupportedCodec)
	}
	if nbytes == 0 {
		return []byte{}, nil
	}
	if blocksize <= 0 || typesize <= 0 {
		return nil, fmt.Errorf("bad blosc header: blocksize %d, typesize %d", blocksize, typesize)
	}
	// Splits stored raw don't need the inner codec, so a lookup error is only
	// reported when a compressed split turns up.
	inner, codecErr := bloscCodec(flags >> 5)
	if codecErr != nil {
		inner = func([]byte, []byte) error { return codecErr }
	}

	nblocks := (nbytes + blocksize - 1) / blocksize
	if bloscHeaderSize+4*nblocks > len(in) {
		return nil, fmt.Errorf("truncated blosc block table")
	}
	out := make([]byte, nbytes)
	for b := 0; b < nblocks; b++ {
		bsize := blocksize
		leftover := false
		if b == nblocks-1 && nbytes%blocksize != 0 {
			bsize = nbytes % blocksize
			leftover = true
		}
		start := int(binary.LittleEndian.Uint32(in[bloscHeaderSize+4*b:]))
		block := out[b*blocksize : b*blocksize+bsize]
		if err := bloscBlock(in, start, block, flags, typesize, leftover, inner); err != nil {
			return nil, fmt.Errorf("blosc block %d: %w", b, err)
		}
	}
	return out, nil
}

func bloscBlock(in []byte, pos int, block []byte, flags byte, typesize int, leftover bool, inner func([]byte, []byte) error) error {
	nsplits := 1
	if flags&bloscDontSplit == 0 && !leftover && typesize <= bloscMaxSplits && len(block)/typesize >= bloscMinBuffer {
		nsplits = typesize
	}
	neblock := len(block) / nsplits
	tmp := make([]byte, len(block))
	for s := 0; s < nsplits; s++ {
		if pos+4 > len(in) {
			return fmt.Errorf("truncated split header")
		}
		csize := int(int32(binary.LittleEndian.Uint32(in[pos:])))
		pos += 4
		if csize < 0 || pos+csize > len(in) {
			return fmt.Errorf("bad split size %d", csize)
		}
		dst := tmp[s*neblock : (s+1)*neblock]
		src := in[pos : pos+csize]
		if csize == neblock {
			copy(dst, src)
		} else if err := inner(src, dst); err != nil {
			return err
		}
		pos += csize
	}
	if flags&bloscShuffle != 0 && typesize > 1 {
		unshuffle(block, tmp, typesize)
	} else {
		copy(block, tmp)
	}
	return nil
}

// unshuffle reverses blosc's byte shuffle of one block.  Trailing bytes that
// don't fill an element are left in place.
func unshuffle(dst, src []byte, typesize int) {
	n := len(src) / typesize
	for j := 0; j < typesize; j++ {
		for i := 0; i < n; i++ {
			dst[i*typesize+j] = src[j*n+i]
		}
	}
	copy(dst[n*typesize:], src[n*typesize:])
}

// bloscCodec returns a decoder for a blosc compressor format code.  Each
// decoder must fill dst exactly.
func bloscCodec(code byte) (func(src, dst []byte) error, error) {
	exact := func(out []byte, dst []byte) error {
		if len(out) != len(dst) {
			return fmt.Errorf("decoded %d bytes, expected %d", len(out), len(dst))
		}
		copy(dst, out)
		return nil
	}
	switch code {
	case 1:
		return func(src, dst []byte) error {
			n, err := lz4.UncompressBlock(src, dst)
			if err != nil {
				return err
			}
			if n != len(dst) {
				return fmt.Errorf("decoded %d bytes, expected %d", n, len(dst))
			}
			return nil
		}, nil
	case 2:
		return func(src, dst []byte) error {
			out, err := snappy.Decode(nil, src)
			if err != nil {
				return err
			}
			return exact(out, dst)
		}, nil
	case 3:
		return func(src, dst []byte) error {
			out, err := zlibUncompress(src)
			if err != nil {
				return err
			}
			return exact(out, dst)
		}, nil
	case 4:
		return func(src, dst []byte) error {
			out, err := zstdUncompress(src)
			if err != nil {
				return err
			}
			return exact(out, dst)
		}, nil
	case 0:
		return nil, fmt.Errorf("%w: blosc blosclz", zroi.ErrUnsupportedCodec)
	}
	return nil, fmt.Errorf("%w: blosc compressor code %d", zroi.ErrUnsupportedCodec, code)
}
