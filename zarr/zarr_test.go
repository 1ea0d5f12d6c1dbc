package zarr

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/golang/snappy"
	. "github.com/janelia-flyem/go/gocheck"
	"github.com/pierrec/lz4/v4"
	"gocloud.dev/blob/memblob"

	"github.com/fractal-analytics-platform/zroi/storage"
	"github.com/fractal-analytics-platform/zroi/zroi"
)

func Test(t *testing.T) { TestingT(t) }

type ZarrSuite struct {
	store *storage.Store
}

var _ = Suite(&ZarrSuite{})

func (s *ZarrSuite) SetUpTest(c *C) {
	s.store = storage.NewStore(memblob.OpenBucket(nil), "mem://zarr-test", "img.zarr")
}

func (s *ZarrSuite) TestParseDtype(c *C) {
	good := map[string]Dtype{
		"<u2":  Uint16,
		"|u1":  Uint8,
		"<f8":  Float64,
		">i4":  {BOBigEndian, BTInteger, 4},
		"|O":   Object,
		"<U12": {BOLittleEndian, BTUnicode, 12},
		"|S5":  {BONotRelevant, BTString, 5},
		"&lt;f4": Float32,
	}
	for str, want := range good {
		dt, err := ParseDtype(str)
		c.Assert(err, IsNil, Commentf("dtype %s", str))
		c.Assert(dt, Equals, want)
	}
	c.Assert(Float32.String(), Equals, "<f4")
	c.Assert(Object.String(), Equals, "|O")
	c.Assert(Dtype{BOLittleEndian, BTUnicode, 3}.ItemSize(), Equals, 12)

	for _, bad := range []string{"", "<", "<x4", "*f4", "<f", "<f0", "<M8[ns]"} {
		_, err := ParseDtype(bad)
		c.Assert(err, NotNil, Commentf("dtype %s", bad))
	}
}

func (s *ZarrSuite) TestArrayMeta(c *C) {
	meta, err := ParseArrayMeta([]byte(`{
		"zarr_format": 2, "shape": [1, 2, 2160, 2560], "chunks": [1, 1, 2160, 2560],
		"dtype": "<u2", "compressor": {"id": "blosc", "cname": "lz4", "clevel": 5, "shuffle": 1, "blocksize": 0},
		"fill_value": 0, "order": "C", "filters": null, "dimension_separator": "/"}`))
	c.Assert(err, IsNil)
	c.Assert(meta.Dtype, Equals, Uint16)
	c.Assert(meta.Compressor.Cname, Equals, "lz4")
	c.Assert(meta.NumChunks(), DeepEquals, []int{1, 2, 1, 1})
	c.Assert(meta.ChunkKey([]int{0, 1, 0, 0}), Equals, "0/1/0/0")

	meta.DimensionSeparator = ""
	c.Assert(meta.ChunkKey([]int{0, 1, 0, 0}), Equals, "0.1.0.0")
	c.Assert(meta.ChunkKey(nil), Equals, "0")

	for _, bad := range []string{
		`{"zarr_format": 3, "shape": [1], "chunks": [1], "dtype": "<u2", "order": "C"}`,
		`{"zarr_format": 2, "shape": [1, 2], "chunks": [1], "dtype": "<u2", "order": "C"}`,
		`{"zarr_format": 2, "shape": [1], "chunks": [0], "dtype": "<u2", "order": "C"}`,
		`{"zarr_format": 2, "shape": [1], "chunks": [1], "dtype": "<u2", "order": "X"}`,
		`{"zarr_format": 2, "shape": [1], "chunks": [1], "dtype": [["a", "<u2"]], "order": "C"}`,
		`not json`,
	} {
		_, err := ParseArrayMeta([]byte(bad))
		c.Assert(errors.Is(err, zroi.ErrInvalidMetadata), Equals, true, Commentf("meta %s", bad))
	}
	_, err = ParseArrayMeta([]byte(`{"zarr_format": 2, "shape": [1], "chunks": [1], "dtype": "<u2", "order": "F"}`))
	c.Assert(errors.Is(err, zroi.ErrUnsupportedCodec), Equals, true)
}

func (s *ZarrSuite) TestRegionAcrossChunks(c *C) {
	ctx := context.Background()
	comp := DefaultCompressor
	arr, err := Create(ctx, s.store, "0", ArrayMeta{
		Shape: []int{5, 7}, Chunks: []int{2, 3}, Dtype: Uint16,
		Compressor: &comp, FillValue: 7.0, DimensionSeparator: "/",
	})
	c.Assert(err, IsNil)

	patch := NewNdArray(Uint16, []int{3, 3})
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			patch.SetFloat64(float64(100+10*y+x), y, x)
		}
	}
	c.Assert(arr.WriteRegion(ctx, []int{1, 2}, patch), IsNil)

	reopened, err := Open(ctx, s.store, "0")
	c.Assert(err, IsNil)
	all, err := reopened.ReadAll(ctx)
	c.Assert(err, IsNil)
	c.Assert(all.Shape, DeepEquals, []int{5, 7})
	for y := 0; y < 5; y++ {
		for x := 0; x < 7; x++ {
			want := 7.0
			if y >= 1 && y < 4 && x >= 2 && x < 5 {
				want = float64(100 + 10*(y-1) + x - 2)
			}
			c.Assert(all.Float64At(y, x), Equals, want, Commentf("at (%d, %d)", y, x))
		}
	}

	// Bounds are clipped to the array.
	part, err := reopened.ReadRegion(ctx, []int{3, 4}, []int{10, 10})
	c.Assert(err, IsNil)
	c.Assert(part.Shape, DeepEquals, []int{2, 3})
	c.Assert(part.Float64At(0, 0), Equals, 122.0)
	c.Assert(part.Float64At(1, 0), Equals, 7.0)

	empty, err := reopened.ReadRegion(ctx, []int{2, 2}, []int{2, 5})
	c.Assert(err, IsNil)
	c.Assert(empty.Len(), Equals, 0)

	_, err = reopened.ReadRegion(ctx, []int{-1, 0}, []int{2, 2})
	c.Assert(err, NotNil)
	_, err = reopened.ReadRegion(ctx, []int{3, 0}, []int{2, 2})
	c.Assert(err, NotNil)
	_, err = reopened.ReadRegion(ctx, []int{0}, []int{2})
	c.Assert(errors.Is(err, zroi.ErrDimensionMismatch), Equals, true)

	c.Assert(arr.WriteRegion(ctx, []int{4, 6}, patch), NotNil)
}

func (s *ZarrSuite) TestMissingArray(c *C) {
	_, err := Open(context.Background(), s.store, "nothing")
	c.Assert(errors.Is(err, zroi.ErrNotFound), Equals, true)
}

func (s *ZarrSuite) TestBigEndianNaNFill(c *C) {
	ctx := context.Background()
	meta := `{"zarr_format": 2, "shape": [4], "chunks": [2], "dtype": ">f4",
		"compressor": null, "fill_value": "NaN", "order": "C", "filters": null}`
	c.Assert(s.store.Put(ctx, "be/.zarray", []byte(meta)), IsNil)
	chunk := make([]byte, 8)
	binary.BigEndian.PutUint32(chunk, math.Float32bits(1.5))
	binary.BigEndian.PutUint32(chunk[4:], math.Float32bits(-2))
	c.Assert(s.store.Put(ctx, "be/0", chunk), IsNil)

	arr, err := Open(ctx, s.store, "be")
	c.Assert(err, IsNil)
	data, err := arr.ReadAll(ctx)
	c.Assert(err, IsNil)
	c.Assert(data.Dtype, Equals, Float32)
	vals, err := data.Float64s()
	c.Assert(err, IsNil)
	c.Assert(vals[:2], DeepEquals, []float64{1.5, -2})
	c.Assert(math.IsNaN(vals[2]) && math.IsNaN(vals[3]), Equals, true)
}

// bloscFrame builds a c-blosc 1.x frame.  A nil inner codec stores splits raw.
func bloscFrame(flags byte, typesize, blocksize int, data []byte, inner func([]byte) []byte) []byte {
	nbytes := len(data)
	nblocks := (nbytes + blocksize - 1) / blocksize
	header := make([]byte, bloscHeaderSize+4*nblocks)
	header[0], header[1], header[2], header[3] = 2, 1, flags, byte(typesize)
	binary.LittleEndian.PutUint32(header[4:], uint32(nbytes))
	binary.LittleEndian.PutUint32(header[8:], uint32(blocksize))

	var body bytes.Buffer
	for b := 0; b < nblocks; b++ {
		binary.LittleEndian.PutUint32(header[bloscHeaderSize+4*b:], uint32(len(header)+body.Len()))
		block := data[b*blocksize : min((b+1)*blocksize, nbytes)]
		leftover := len(block) < blocksize
		if flags&bloscShuffle != 0 {
			n := len(block) / typesize
			shuffled := make([]byte, len(block))
			for i := 0; i < n; i++ {
				for j := 0; j < typesize; j++ {
					shuffled[j*n+i] = block[i*typesize+j]
				}
			}
			copy(shuffled[n*typesize:], block[n*typesize:])
			block = shuffled
		}
		nsplits := 1
		if flags&bloscDontSplit == 0 && !leftover && typesize <= bloscMaxSplits && len(block)/typesize >= bloscMinBuffer {
			nsplits = typesize
		}
		neblock := len(block) / nsplits
		for sp := 0; sp < nsplits; sp++ {
			split := block[sp*neblock : (sp+1)*neblock]
			if inner != nil {
				split = inner(split)
			}
			var size [4]byte
			binary.LittleEndian.PutUint32(size[:], uint32(len(split)))
			body.Write(size[:])
			body.Write(split)
		}
	}
	frame := append(header, body.Bytes()...)
	binary.LittleEndian.PutUint32(frame[12:], uint32(len(frame)))
	return frame
}

func uint16Data(n int) []byte {
	data := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(i%50))
	}
	return data
}

func (s *ZarrSuite) TestBlosc(c *C) {
	blosc := &Compressor{ID: "blosc"}

	// Raw splits with shuffle; the first block is split by bytes, the leftover isn't.
	data := uint16Data(300)
	out, err := decompress(blosc, bloscFrame(bloscShuffle, 2, 512, data, nil))
	c.Assert(err, IsNil)
	c.Assert(out, DeepEquals, data)

	// zstd inner codec.
	zstdInner := func(b []byte) []byte { return zstdEncoder.EncodeAll(b, nil) }
	out, err = decompress(blosc, bloscFrame(bloscShuffle|4<<5, 2, 256, data, zstdInner))
	c.Assert(err, IsNil)
	c.Assert(out, DeepEquals, data)

	// lz4 inner codec without splitting.
	lz4Inner := func(b []byte) []byte {
		buf := make([]byte, lz4.CompressBlockBound(len(b)))
		n, err := lz4.CompressBlock(b, buf, nil)
		c.Assert(err, IsNil)
		c.Assert(n > 0, Equals, true)
		return buf[:n]
	}
	out, err = decompress(blosc, bloscFrame(bloscShuffle|bloscDontSplit|1<<5, 2, 600, data, lz4Inner))
	c.Assert(err, IsNil)
	c.Assert(out, DeepEquals, data)

	// snappy inner codec.
	snappyInner := func(b []byte) []byte { return snappy.Encode(nil, b) }
	out, err = decompress(blosc, bloscFrame(2<<5, 2, 128, data, snappyInner))
	c.Assert(err, IsNil)
	c.Assert(out, DeepEquals, data)

	// memcpyed frames hold the data right after the header.
	memcpyed := make([]byte, bloscHeaderSize, bloscHeaderSize+len(data))
	memcpyed[2], memcpyed[3] = bloscMemcpyed, 2
	binary.LittleEndian.PutUint32(memcpyed[4:], uint32(len(data)))
	binary.LittleEndian.PutUint32(memcpyed[12:], uint32(bloscHeaderSize+len(data)))
	memcpyed = append(memcpyed, data...)
	out, err = decompress(blosc, memcpyed)
	c.Assert(err, IsNil)
	c.Assert(out, DeepEquals, data)

	// Unsupported variants.
	_, err = decompress(blosc, bloscFrame(bloscBitShuffle|1<<5, 2, 512, data, nil))
	c.Assert(errors.Is(err, zroi.ErrUnsupportedCodec), Equals, true)
	_, err = decompress(blosc, bloscFrame(0, 2, 512, data, snappyInner))
	c.Assert(errors.Is(err, zroi.ErrUnsupportedCodec), Equals, true)
	_, err = decompress(blosc, []byte{1, 2, 3})
	c.Assert(err, NotNil)
}

func (s *ZarrSuite) TestOtherCodecs(c *C) {
	data := uint16Data(1000)
	for _, id := range []string{"zstd", "gzip", "zlib"} {
		comp := &Compressor{ID: id}
		enc, err := compress(comp, data)
		c.Assert(err, IsNil)
		dec, err := decompress(comp, enc)
		c.Assert(err, IsNil)
		c.Assert(dec, DeepEquals, data, Commentf("codec %s", id))
	}

	buf := make([]byte, 4+lz4.CompressBlockBound(len(data)))
	binary.LittleEndian.PutUint32(buf, uint32(len(data)))
	n, err := lz4.CompressBlock(data, buf[4:], nil)
	c.Assert(err, IsNil)
	dec, err := decompress(&Compressor{ID: "lz4"}, buf[:4+n])
	c.Assert(err, IsNil)
	c.Assert(dec, DeepEquals, data)

	_, err = decompress(&Compressor{ID: "bz2"}, data)
	c.Assert(errors.Is(err, zroi.ErrUnsupportedCodec), Equals, true)
	_, err = compress(&Compressor{ID: "lz4"}, data)
	c.Assert(errors.Is(err, zroi.ErrUnsupportedCodec), Equals, true)
}

func (s *ZarrSuite) TestStrings(c *C) {
	ctx := context.Background()
	names := []string{"FOV_1", "FOV_2", "größe"}
	_, err := WriteStrings(ctx, s.store, "obs/_index", names)
	c.Assert(err, IsNil)
	arr, err := Open(ctx, s.store, "obs/_index")
	c.Assert(err, IsNil)
	got, err := arr.ReadStrings(ctx)
	c.Assert(err, IsNil)
	c.Assert(got, DeepEquals, names)

	_, err = arr.ReadAll(ctx)
	c.Assert(errors.Is(err, zroi.ErrUnsupportedCodec), Equals, true)

	// Fixed-width unicode, two chunks, the second missing.
	meta := `{"zarr_format": 2, "shape": [3], "chunks": [2], "dtype": "<U3",
		"compressor": null, "fill_value": "", "order": "C", "filters": null}`
	c.Assert(s.store.Put(ctx, "u/.zarray", []byte(meta)), IsNil)
	chunk := make([]byte, 24)
	for i, r := range "ab" {
		binary.LittleEndian.PutUint32(chunk[4*i:], uint32(r))
	}
	for i, r := range "xyz" {
		binary.LittleEndian.PutUint32(chunk[12+4*i:], uint32(r))
	}
	c.Assert(s.store.Put(ctx, "u/0", chunk), IsNil)
	arr, err = Open(ctx, s.store, "u")
	c.Assert(err, IsNil)
	got, err = arr.ReadStrings(ctx)
	c.Assert(err, IsNil)
	c.Assert(got, DeepEquals, []string{"ab", "xyz", ""})
}

func (s *ZarrSuite) TestNdArray(c *C) {
	a, err := FromFloat64s(Float32, []int{1, 2, 3}, []float64{0, 1, 2, 3, 4, 5})
	c.Assert(err, IsNil)
	c.Assert(a.Float64At(0, 1, 2), Equals, 5.0)

	sq := a.Squeeze(2)
	c.Assert(sq.Shape, DeepEquals, []int{2, 3})
	c.Assert(sq.Float64At(1, 0), Equals, 3.0)

	rep := sq.Repeat(4)
	c.Assert(rep.Shape, DeepEquals, []int{4, 2, 3})
	c.Assert(rep.Float64At(3, 1, 1), Equals, 4.0)

	r, err := a.Reshape(6)
	c.Assert(err, IsNil)
	c.Assert(r.Float64At(4), Equals, 4.0)
	_, err = a.Reshape(4)
	c.Assert(err, NotNil)

	_, err = FromFloat64s(Float32, []int{2}, []float64{1})
	c.Assert(err, NotNil)
	_, err = FromFloat64s(Object, []int{1}, []float64{1})
	c.Assert(err, NotNil)

	i8 := NewNdArray(Dtype{BONotRelevant, BTInteger, 1}, []int{1})
	i8.SetFloat64(-3, 0)
	c.Assert(i8.Float64At(0), Equals, -3.0)
}

func (s *ZarrSuite) TestGroup(c *C) {
	ctx := context.Background()
	c.Assert(CreateGroup(ctx, s.store, "labels"), IsNil)
	c.Assert(WriteAttrs(ctx, s.store, "labels", []byte(`{"labels": []}`)), IsNil)
	attrs, err := ReadAttrs(ctx, s.store, "labels")
	c.Assert(err, IsNil)
	c.Assert(string(attrs), Equals, `{"labels": []}`)
	grp, err := s.store.Get(ctx, "labels/.zgroup")
	c.Assert(err, IsNil)
	c.Assert(string(grp), Equals, `{"zarr_format":2}`)
}
