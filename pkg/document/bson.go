package document

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Encoder encodes documents to BSON format
type Encoder struct {
	buf *bytes.Buffer
}

// NewEncoder creates a new BSON encoder
func NewEncoder() *Encoder {
	return &Encoder{
		buf: new(bytes.Buffer),
	}
}

// Encode encodes a document to BSON format
// BSON format: [4-byte size][elements...][0x00 terminator]
// Element format: [1-byte type][cstring key][value]
func (e *Encoder) Encode(doc *Document) ([]byte, error) {
	e.buf.Reset()
	if err := e.encodeDocument(e.buf, doc); err != nil {
		return nil, err
	}
	data := make([]byte, e.buf.Len())
	copy(data, e.buf.Bytes())
	return data, nil
}

func (e *Encoder) encodeDocument(buf *bytes.Buffer, doc *Document) error {
	body := new(bytes.Buffer)
	for _, entry := range doc.Entries() {
		if err := e.encodeElement(body, entry.Key, entry.Value); err != nil {
			return fmt.Errorf("failed to encode field %s: %w", entry.Key, err)
		}
	}
	body.WriteByte(0x00)

	binary.Write(buf, binary.LittleEndian, int32(body.Len()+4))
	buf.Write(body.Bytes())
	return nil
}

func (e *Encoder) encodeArray(buf *bytes.Buffer, arr []interface{}) error {
	doc := NewDocument()
	for i, item := range arr {
		doc.Set(fmt.Sprintf("%d", i), item)
	}
	return e.encodeDocument(buf, doc)
}

// encodeElement encodes a single document element
func (e *Encoder) encodeElement(buf *bytes.Buffer, key string, value interface{}) error {
	buf.WriteByte(byte(TypeOf(value)))
	buf.WriteString(key)
	buf.WriteByte(0x00)

	switch v := value.(type) {
	case nil, MinKey, MaxKey, Undefined:
		// no payload
	case bool:
		if v {
			buf.WriteByte(0x01)
		} else {
			buf.WriteByte(0x00)
		}
	case int32:
		binary.Write(buf, binary.LittleEndian, v)
	case int64:
		binary.Write(buf, binary.LittleEndian, v)
	case int:
		binary.Write(buf, binary.LittleEndian, int64(v))
	case float64:
		binary.Write(buf, binary.LittleEndian, math.Float64bits(v))
	case float32:
		binary.Write(buf, binary.LittleEndian, math.Float64bits(float64(v)))
	case Decimal128:
		binary.Write(buf, binary.LittleEndian, v.Low)
		binary.Write(buf, binary.LittleEndian, v.High)
	case string:
		binary.Write(buf, binary.LittleEndian, int32(len(v)+1))
		buf.WriteString(v)
		buf.WriteByte(0x00)
	case []byte:
		binary.Write(buf, binary.LittleEndian, int32(len(v)))
		buf.WriteByte(0x00) // generic subtype
		buf.Write(v)
	case Binary:
		binary.Write(buf, binary.LittleEndian, int32(len(v.Data)))
		buf.WriteByte(v.Subtype)
		buf.Write(v.Data)
	case ObjectID:
		buf.Write(v[:])
	case time.Time:
		binary.Write(buf, binary.LittleEndian, v.UnixMilli())
	case Timestamp:
		binary.Write(buf, binary.LittleEndian, v.I)
		binary.Write(buf, binary.LittleEndian, v.T)
	case Regex:
		buf.WriteString(v.Pattern)
		buf.WriteByte(0x00)
		buf.WriteString(v.Options)
		buf.WriteByte(0x00)
	case []interface{}:
		return e.encodeArray(buf, v)
	case *Document:
		return e.encodeDocument(buf, v)
	case map[string]interface{}:
		return e.encodeDocument(buf, NewDocumentFromMap(v))
	default:
		return fmt.Errorf("unsupported type %T", value)
	}
	return nil
}

// Decoder decodes BSON data into documents
type Decoder struct {
	data []byte
	pos  int
}

// NewDecoder creates a new BSON decoder for the given data
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Decode decodes a BSON document
func (d *Decoder) Decode() (*Document, error) {
	return d.decodeDocument()
}

func (d *Decoder) decodeDocument() (*Document, error) {
	size, err := d.readInt32()
	if err != nil {
		return nil, err
	}
	if size < 5 || d.pos+int(size)-4 > len(d.data) {
		return nil, fmt.Errorf("invalid document size: %d", size)
	}

	doc := NewDocument()
	for {
		typeByte, err := d.readByte()
		if err != nil {
			return nil, err
		}
		if typeByte == 0x00 {
			break
		}
		key, err := d.readCString()
		if err != nil {
			return nil, err
		}
		value, err := d.decodeValue(Type(typeByte))
		if err != nil {
			return nil, fmt.Errorf("failed to decode field %s: %w", key, err)
		}
		doc.Set(key, value)
	}
	return doc, nil
}

func (d *Decoder) decodeValue(t Type) (interface{}, error) {
	switch t {
	case TypeNull:
		return nil, nil
	case TypeMinKey:
		return MinKey{}, nil
	case TypeMaxKey:
		return MaxKey{}, nil
	case TypeUndefined:
		return Undefined{}, nil
	case TypeBoolean:
		b, err := d.readByte()
		return b == 0x01, err
	case TypeInt32:
		return d.readInt32()
	case TypeInt64:
		v, err := d.readUint64()
		return int64(v), err
	case TypeDouble:
		v, err := d.readUint64()
		return math.Float64frombits(v), err
	case TypeDecimal:
		low, err := d.readUint64()
		if err != nil {
			return nil, err
		}
		high, err := d.readUint64()
		return Decimal128{High: high, Low: low}, err
	case TypeString:
		return d.readString()
	case TypeBinary:
		length, err := d.readInt32()
		if err != nil {
			return nil, err
		}
		subtype, err := d.readByte()
		if err != nil {
			return nil, err
		}
		data, err := d.readBytes(int(length))
		if err != nil {
			return nil, err
		}
		return Binary{Subtype: subtype, Data: data}, nil
	case TypeObjectID:
		b, err := d.readBytes(12)
		if err != nil {
			return nil, err
		}
		var id ObjectID
		copy(id[:], b)
		return id, nil
	case TypeDateTime:
		v, err := d.readUint64()
		return time.UnixMilli(int64(v)).UTC(), err
	case TypeTimestamp:
		i, err := d.readInt32()
		if err != nil {
			return nil, err
		}
		tsec, err := d.readInt32()
		return Timestamp{T: uint32(tsec), I: uint32(i)}, err
	case TypeRegex:
		pattern, err := d.readCString()
		if err != nil {
			return nil, err
		}
		options, err := d.readCString()
		return Regex{Pattern: pattern, Options: options}, err
	case TypeDocument:
		return d.decodeDocument()
	case TypeArray:
		doc, err := d.decodeDocument()
		if err != nil {
			return nil, err
		}
		arr := make([]interface{}, 0, doc.Len())
		for _, entry := range doc.Entries() {
			arr = append(arr, entry.Value)
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unsupported BSON type: 0x%02X", byte(t))
	}
}

func (d *Decoder) readByte() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, fmt.Errorf("unexpected end of BSON data")
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *Decoder) readBytes(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.data) {
		return nil, fmt.Errorf("unexpected end of BSON data")
	}
	b := make([]byte, n)
	copy(b, d.data[d.pos:d.pos+n])
	d.pos += n
	return b, nil
}

func (d *Decoder) readInt32() (int32, error) {
	b, err := d.readBytes(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (d *Decoder) readUint64() (uint64, error) {
	b, err := d.readBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (d *Decoder) readCString() (string, error) {
	start := d.pos
	for d.pos < len(d.data) {
		if d.data[d.pos] == 0x00 {
			s := string(d.data[start:d.pos])
			d.pos++
			return s, nil
		}
		d.pos++
	}
	return "", fmt.Errorf("unterminated cstring")
}

func (d *Decoder) readString() (string, error) {
	length, err := d.readInt32()
	if err != nil {
		return "", err
	}
	if length < 1 {
		return "", fmt.Errorf("invalid string length: %d", length)
	}
	b, err := d.readBytes(int(length))
	if err != nil {
		return "", err
	}
	return string(b[:length-1]), nil
}
