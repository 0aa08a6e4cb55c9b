package resp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadValue_SimpleString(t *testing.T) {
	n, v, err := ReadValue([]byte("+PONG\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, SimpleString("PONG"), v)
}

func TestReadValue_SimpleError(t *testing.T) {
	n, v, err := ReadValue([]byte("-ERR oops\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, SimpleError("ERR oops"), v)
}

func TestReadValue_Integer(t *testing.T) {
	n, v, err := ReadValue([]byte(":42\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, Int(42), v)

	_, v, err = ReadValue([]byte(":-7\r\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(-7), v.Int)
}

func TestReadValue_BulkString(t *testing.T) {
	n, v, err := ReadValue([]byte("$5\r\nhello\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, BulkString("hello"), v)
}

func TestReadValue_EmptyBulkString(t *testing.T) {
	n, v, err := ReadValue([]byte("$0\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, BulkString(""), v)
}

func TestReadValue_NullBulkString(t *testing.T) {
	n, v, err := ReadValue([]byte("$-1\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.True(t, v.Null)
	assert.Equal(t, Bulk, v.Type)
}

func TestReadValue_Array(t *testing.T) {
	b := []byte("*2\r\n$3\r\nfoo\r\n$3\r\nbar\r\n")
	n, v, err := ReadValue(b)
	require.NoError(t, err)
	assert.Equal(t, len(b), n)
	assert.Equal(t, ArrayOf(BulkString("foo"), BulkString("bar")), v)
}

func TestReadValue_NestedArray(t *testing.T) {
	b := []byte("*2\r\n*1\r\n$1\r\na\r\n+OK\r\n")
	n, v, err := ReadValue(b)
	require.NoError(t, err)
	assert.Equal(t, len(b), n)
	require.Len(t, v.Elems, 2)
	assert.Equal(t, ArrayOf(BulkString("a")), v.Elems[0])
	assert.Equal(t, SimpleString("OK"), v.Elems[1])
}

func TestReadValue_Incomplete(t *testing.T) {
	incomplete := []string{
		"",
		"+PON",
		"$5\r\nhel",
		"$5\r\nhello",     // body present, terminator missing
		"$10\r\nhello\r\n", // declared length runs past buffer end
		"*2\r\n$3\r\nfoo\r\n",
		"*2\r\n$3\r\nfoo\r\n$3\r\nba",
	}
	for _, in := range incomplete {
		_, _, err := ReadValue([]byte(in))
		assert.ErrorIs(t, err, ErrIncomplete, "input %q", in)
	}
}

func TestReadValue_Invalid(t *testing.T) {
	invalid := []string{
		"@foo\r\n",         // unknown prefix
		"$abc\r\nfoo\r\n",  // non-numeric length
		"$-2\r\n",          // negative length other than the null sentinel
		"$3\r\nfooXY",      // bad terminator
		"$3\r\nfooXY\r\n",  // bad terminator with trailing CRLF
		":\r\n",            // empty integer
		":1a\r\n",          // non-digit integer
		"*x\r\n",           // bad array length
		"+OK\nmore\r\n",    // LF without CR
	}
	for _, in := range invalid {
		_, _, err := ReadValue([]byte(in))
		require.Error(t, err, "input %q", in)
		assert.NotErrorIs(t, err, ErrIncomplete, "input %q", in)
		var perr *ProtocolError
		assert.ErrorAs(t, err, &perr, "input %q", in)
	}
}

func TestReadValue_NonUTF8BulkBody(t *testing.T) {
	b := []byte("$2\r\n\xff\xfe\r\n")
	_, _, err := ReadValue(b)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrIncomplete)
}

func TestRoundTrip(t *testing.T) {
	values := []Value{
		SimpleString("OK"),
		SimpleError("ERR wrong"),
		Int(0),
		Int(-1234),
		Int(987654321),
		BulkString("hello"),
		BulkString(""),
		BulkString("héllo wörld"), // multi-byte runes: header is byte length
		Null,
		ArrayOf(),
		ArrayOf(BulkString("SET"), BulkString("k"), BulkString("v")),
		ArrayOf(ArrayOf(Int(1), Int(2)), SimpleString("nested")),
	}
	for _, v := range values {
		encoded := v.Bytes()
		n, parsed, err := ReadValue(encoded)
		require.NoError(t, err, "value %#v", v)
		assert.Equal(t, len(encoded), n)
		assert.Equal(t, v, parsed)
	}
}

func TestBulkStringByteLengthHeader(t *testing.T) {
	// 4 runes, 7 bytes. The header must carry 7.
	out := BulkString("héllô").Bytes()
	assert.Equal(t, "$7\r\nhéllô\r\n", string(out))
}

func TestAppendHelpers(t *testing.T) {
	assert.Equal(t, "+OK\r\n", string(AppendOK(nil)))
	assert.Equal(t, "$-1\r\n", string(AppendNull(nil)))
	assert.Equal(t, ":12\r\n", string(AppendInt(nil, 12)))
	assert.Equal(t, "*3\r\n", string(AppendArray(nil, 3)))
	assert.Equal(t, "$3\r\nfoo\r\n", string(AppendBulkString(nil, "foo")))
	assert.Equal(t, "$2\r\nab\r\n", string(AppendBulk(nil, []byte("ab"))))
	assert.Equal(t, "-ERR bad\r\n", string(AppendError(nil, "ERR bad")))
}

func TestAppendStripNewlines(t *testing.T) {
	assert.Equal(t, "+a b\r\n", string(AppendString(nil, "a\r\nb")))
	assert.Equal(t, "-x y\r\n", string(AppendError(nil, "x\ny")))
}
