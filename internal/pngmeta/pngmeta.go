// Package pngmeta embeds and reads draw.io diagram XML in PNG text chunks.
package pngmeta

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/crc32"
	"image/png"
	"io"
	"slices"
	"strings"

	"github.com/rendis/drawmaid/pkg/schema"
)

// Text chunk keywords written by Embed.
const (
	KeyGraphModel = "mxGraphModel"
	KeySoftware   = "Software"
	SoftwareName  = "draw.io"
)

const signature = "\x89PNG\r\n\x1a\n"

// Chunk is one PNG chunk. Raw holds the full on-disk bytes including length and CRC.
type Chunk struct {
	Type string
	Data []byte
	Raw  []byte
}

// Embed returns a copy of img carrying xml under mxGraphModel and Software=draw.io.
// Existing text entries for those keys are replaced; every other chunk is copied verbatim.
func Embed(xml string, img []byte) ([]byte, error) {
	chunks, err := Chunks(img)
	if err != nil {
		return nil, err
	}
	if _, err := png.DecodeConfig(bytes.NewReader(img)); err != nil {
		return nil, embedErr("png is not decodable", err)
	}
	if xml == "" {
		return nil, embedErr("xml is empty", nil)
	}

	model, err := textChunk(KeyGraphModel, xml)
	if err != nil {
		return nil, err
	}
	software, err := textChunk(KeySoftware, SoftwareName)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.Grow(len(img) + len(model) + len(software))
	out.WriteString(signature)

	inserted := false
	for _, c := range chunks {
		if isText(c.Type) {
			if key, _, ok := keyword(c.Data); ok && (key == KeyGraphModel || key == KeySoftware) {
				continue
			}
		}
		if c.Type == "IDAT" && !inserted {
			out.Write(model)
			out.Write(software)
			inserted = true
		}
		out.Write(c.Raw)
	}
	if !inserted {
		return nil, embedErr("png has no IDAT chunk", nil)
	}
	return out.Bytes(), nil
}

// Extract returns the text stored under key in a tEXt, zTXt or iTXt chunk.
func Extract(img []byte, key string) (string, error) {
	chunks, err := Chunks(img)
	if err != nil {
		return "", err
	}
	for _, c := range chunks {
		if !isText(c.Type) {
			continue
		}
		k, rest, ok := keyword(c.Data)
		if !ok || k != key {
			continue
		}
		return decodeText(c.Type, rest)
	}
	return "", schema.NewErrorf(schema.ErrCodeEmbedding, "png has no %q text entry", key).
		WithStage(schema.StageXMLEmbedded)
}

// Chunks splits a PNG into chunks, checking the signature, lengths and CRCs.
func Chunks(img []byte) ([]Chunk, error) {
	if len(img) < len(signature) || string(img[:len(signature)]) != signature {
		return nil, embedErr("invalid png signature", nil)
	}

	var chunks []Chunk
	pos := len(signature)
	for pos < len(img) {
		if len(img)-pos < 12 {
			return nil, embedErr("truncated png chunk header", nil)
		}
		n := int(binary.BigEndian.Uint32(img[pos:]))
		end := pos + 12 + n
		if n < 0 || end > len(img) {
			return nil, embedErr("png chunk length exceeds data", nil)
		}
		typ := string(img[pos+4 : pos+8])
		data := img[pos+8 : pos+8+n]
		want := binary.BigEndian.Uint32(img[pos+8+n:])
		if crc32.ChecksumIEEE(img[pos+4:pos+8+n]) != want {
			return nil, schema.NewErrorf(schema.ErrCodeEmbedding, "crc mismatch in %s chunk", typ).
				WithStage(schema.StageXMLEmbedded)
		}
		chunks = append(chunks, Chunk{Type: typ, Data: data, Raw: img[pos:end]})
		pos = end
		if typ == "IEND" {
			break
		}
	}
	if len(chunks) == 0 || chunks[0].Type != "IHDR" {
		return nil, embedErr("png does not start with IHDR", nil)
	}
	return chunks, nil
}

// textChunk encodes key/value as tEXt when the value is ASCII, otherwise as uncompressed iTXt.
func textChunk(key, value string) ([]byte, error) {
	if strings.IndexByte(value, 0) >= 0 {
		return nil, embedErr("text contains NUL byte", nil)
	}
	var data []byte
	typ := "tEXt"
	if isASCII(value) {
		data = slices.Concat([]byte(key), []byte{0}, []byte(value))
	} else {
		typ = "iTXt"
		// keyword, NUL, compression flag, method, empty language tag, empty translated keyword
		data = slices.Concat([]byte(key), []byte{0, 0, 0, 0, 0}, []byte(value))
	}
	return encodeChunk(typ, data), nil
}

func encodeChunk(typ string, data []byte) []byte {
	buf := make([]byte, 12+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], typ)
	copy(buf[8:], data)
	binary.BigEndian.PutUint32(buf[8+len(data):], crc32.ChecksumIEEE(buf[4:8+len(data)]))
	return buf
}

func decodeText(typ string, rest []byte) (string, error) {
	switch typ {
	case "tEXt":
		return latin1(rest), nil
	case "zTXt":
		if len(rest) < 1 {
			return "", embedErr("truncated zTXt chunk", nil)
		}
		b, err := inflate(rest[1:])
		if err != nil {
			return "", err
		}
		return latin1(b), nil
	default: // iTXt
		if len(rest) < 2 {
			return "", embedErr("truncated iTXt chunk", nil)
		}
		compressed := rest[0] == 1
		body := rest[2:]
		for range 2 { // language tag, translated keyword
			i := bytes.IndexByte(body, 0)
			if i < 0 {
				return "", embedErr("truncated iTXt chunk", nil)
			}
			body = body[i+1:]
		}
		if compressed {
			b, err := inflate(body)
			if err != nil {
				return "", err
			}
			body = b
		}
		return string(body), nil
	}
}

func inflate(b []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, embedErr("inflate text chunk", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, embedErr("inflate text chunk", err)
	}
	return out, nil
}

func keyword(data []byte) (string, []byte, bool) {
	i := bytes.IndexByte(data, 0)
	if i <= 0 {
		return "", nil, false
	}
	return string(data[:i]), data[i+1:], true
}

func isText(typ string) bool {
	return typ == "tEXt" || typ == "iTXt" || typ == "zTXt"
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func latin1(b []byte) string {
	if isASCII(string(b)) {
		return string(b)
	}
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return string(r)
}

func embedErr(msg string, cause error) *schema.ConvertError {
	e := schema.NewError(schema.ErrCodeEmbedding, msg).WithStage(schema.StageXMLEmbedded)
	if cause != nil {
		e = e.WithCause(cause)
	}
	return e
}
