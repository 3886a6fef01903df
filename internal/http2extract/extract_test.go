package http2extract

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrzor/h2trace/internal/fakeproc"
	"github.com/mrzor/h2trace/internal/goabi"
	"github.com/mrzor/h2trace/internal/procmem"
)

func stringAt(t *testing.T, mem procmem.Reader, s procmem.String) string {
	t.Helper()
	buf := make([]byte, s.Len)
	require.NoError(t, procmem.ReadBytes(mem, s.Ptr, buf))
	return string(buf)
}

func TestStatusDigits_AllCodes(t *testing.T) {
	for code := uint32(100); code <= 599; code++ {
		got := StatusDigits(code)
		want := strconv.Itoa(int(code))
		require.Equal(t, want, string(got[:]), "code %d", code)
		for i, c := range got {
			require.Equal(t, byte('0'+(int(code)/[]int{100, 10, 1}[i])%10), c)
		}
	}
}

func TestStatusDigits_OutOfRange(t *testing.T) {
	got := StatusDigits(1404)
	assert.Equal(t, "404", string(got[:]))
	got = StatusDigits(7)
	assert.Equal(t, "007", string(got[:]))
}

func TestClientStreamID(t *testing.T) {
	tests := []struct {
		next uint32
		want uint32
	}{
		{3, 1},
		{5, 3},
		{101, 99},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClientStreamID(tt.next))
	}
}

func TestMetaHeadersFrame(t *testing.T) {
	p := fakeproc.New(1)
	fields := p.HeaderFields(
		fakeproc.Field{Name: ":method", Value: "POST"},
		fakeproc.Field{Name: ":path", Value: "/helloworld.Greeter/SayHello"},
		fakeproc.Field{Name: "authorization", Value: "Bearer x", Sensitive: true},
	)
	frame := p.MetaHeadersFrame(5, fields)
	ctx := p.Context(goabi.Regs{}, 1, 1)

	id, ok := StreamID(ctx, frame)
	require.True(t, ok)
	assert.Equal(t, uint32(5), id)

	got, ok := FieldsOf(ctx, frame)
	require.True(t, ok)
	require.Equal(t, 3, got.Len())

	f0, err := got.At(ctx.Mem, 0)
	require.NoError(t, err)
	assert.Equal(t, ":method", stringAt(t, ctx.Mem, f0.Name))
	assert.Equal(t, "POST", stringAt(t, ctx.Mem, f0.Value))
	assert.False(t, f0.Sensitive)

	f2, err := got.At(ctx.Mem, 2)
	require.NoError(t, err)
	assert.Equal(t, "authorization", stringAt(t, ctx.Mem, f2.Name))
	assert.True(t, f2.Sensitive)

	_, err = got.At(ctx.Mem, 3)
	assert.ErrorIs(t, err, procmem.ErrFault, "reads past the backing array fault")
}

func TestStreamID_BadFrame(t *testing.T) {
	p := fakeproc.New(1)
	ctx := p.Context(goabi.Regs{}, 1, 1)

	_, ok := StreamID(ctx, 0)
	assert.False(t, ok)

	frame := p.Struct(0x30) // nil *HeadersFrame
	_, ok = StreamID(ctx, frame)
	assert.False(t, ok)

	_, ok = FieldsOf(ctx, 0)
	assert.False(t, ok)
}

func TestFields_LenSaturates(t *testing.T) {
	f := Fields{Slice: procmem.Slice{Len: 1 << 40}}
	assert.Positive(t, f.Len())
}

func TestReadResponseHeaders(t *testing.T) {
	p := fakeproc.New(1)
	obj := p.WriteResHeaders(fakeproc.ResHeaders{
		Stream:        7,
		Status:        404,
		ContentLength: "0",
	})
	ctx := p.Context(goabi.Regs{}, 1, 1)

	rh, ok := ReadResponseHeaders(ctx, obj)
	require.True(t, ok)
	assert.Equal(t, uint32(7), rh.StreamID)
	assert.Equal(t, uint32(404), rh.Status)
	assert.Zero(t, rh.Date.Len)
	assert.Zero(t, rh.ContentType.Len)
	assert.Equal(t, "0", stringAt(t, ctx.Mem, rh.ContentLength))

	_, ok = ReadResponseHeaders(ctx, 0)
	assert.False(t, ok)
}
