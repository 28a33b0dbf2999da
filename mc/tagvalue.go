package mc

// TagValue holds the result of a tag read operation.
type TagValue struct {
	Name     string // Tag name/address
	DataType uint16 // MELSEC type code
	Bytes    []byte // Raw value bytes (little-endian, native MC format)
	Count    int    // Number of elements (1 for scalar, >1 for array)
	Error    error  // Per-tag error (nil if successful)
}

// GoValue returns the decoded Go value from the raw bytes: scalars for
// single elements, typed slices for arrays, nil when the read failed.
func (v *TagValue) GoValue() interface{} {
	if v == nil || v.Error != nil || len(v.Bytes) == 0 {
		return nil
	}

	baseType := BaseType(v.DataType)
	isArray := IsArray(v.DataType) || v.Count > 1
	if !isArray {
		elemSize := TypeSize(baseType)
		if elemSize > 0 && len(v.Bytes) > elemSize {
			isArray = true
		}
	}

	if isArray && baseType != TypeString {
		return v.parseArray(baseType)
	}
	return DecodeValue(baseType, v.Bytes)
}

// TypeName returns the display name of the value's type.
func (v *TagValue) TypeName() string {
	return TypeName(v.DataType)
}

// parseArray decodes the byte stream element by element.
func (v *TagValue) parseArray(baseType uint16) interface{} {
	elemSize := TypeSize(baseType)
	if elemSize <= 0 {
		return v.Bytes
	}

	count := v.Count
	if count <= 1 {
		count = len(v.Bytes) / elemSize
	}

	// Bool arrays from bit reads carry one byte per element.
	if baseType == TypeBool && len(v.Bytes) == count {
		out := make([]bool, count)
		for i := range out {
			out[i] = v.Bytes[i] != 0
		}
		return out
	}

	out := make([]interface{}, 0, count)
	for i := 0; i+elemSize <= len(v.Bytes) && len(out) < count; i += elemSize {
		out = append(out, DecodeValue(baseType, v.Bytes[i:i+elemSize]))
	}
	return out
}

// TagRequest is a read request with a type hint and element count.
type TagRequest struct {
	Name     string // Tag name or device address
	TypeHint string // Type name ("INT", "REAL", "DINT"...)
	Count    int    // Element count (<=1 for scalar)
}

// ReadTags reads a batch of typed tags. Per-tag failures are reported
// in the returned values; only transport-level failures error the
// whole batch.
func (c *Client) ReadTags(requests []TagRequest) ([]*TagValue, error) {
	results := make([]*TagValue, 0, len(requests))

	for _, req := range requests {
		typeCode, ok := TypeCodeFromName(req.TypeHint)
		if !ok {
			typeCode = TypeWord
		}
		count := req.Count
		if count < 1 {
			count = 1
		}

		tv := &TagValue{Name: req.Name, DataType: typeCode, Count: count}
		if count > 1 {
			tv.DataType = MakeArrayType(typeCode)
		}

		tv.Bytes, tv.Error = c.readTagBytes(req.Name, typeCode, count)
		results = append(results, tv)

		if tv.Error != nil && !c.IsConnected() {
			// Connection is gone; fail the remaining tags up front.
			return results, tv.Error
		}
	}
	return results, nil
}

// readTagBytes fetches the raw little-endian bytes for one tag.
func (c *Client) readTagBytes(addr string, typeCode uint16, count int) ([]byte, error) {
	if BaseType(typeCode) == TypeBool {
		bits, err := c.ReadBools(addr, count)
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(bits))
		for i, b := range bits {
			if b {
				out[i] = 1
			}
		}
		return out, nil
	}

	words, err := c.readWords(addr, WordsFor(typeCode, count))
	if err != nil {
		return nil, err
	}
	b := WordsToBytes(words)
	if BaseType(typeCode) == TypeByte && count < len(b) {
		b = b[:count]
	}
	return b, nil
}

// WriteTag writes a single value to a tag, converting per the type
// hint. JSON-decoded values (float64, []interface{}) are accepted.
func (c *Client) WriteTag(addr string, value interface{}, typeHint string) error {
	typeCode, ok := TypeCodeFromName(typeHint)
	if !ok {
		typeCode = TypeWord
	}

	if BaseType(typeCode) == TypeBool {
		parsed, _, err := c.resolve(addr)
		if err != nil {
			return err
		}
		bits, err := toBoolSlice(value)
		if err != nil {
			return err
		}
		if parsed.Device.Mode() == ModeBit {
			return c.WriteBools(addr, bits)
		}
		// Word device: write whole words holding 0 or 1.
		words := make([]uint16, len(bits))
		for i, b := range bits {
			if b {
				words[i] = 1
			}
		}
		return c.writeWords(addr, words)
	}

	elements, err := toElements(value)
	if err != nil {
		return err
	}

	var words []uint16
	for _, elem := range elements {
		b, err := EncodeValue(elem, typeCode)
		if err != nil {
			return err
		}
		words = append(words, BytesToWords(b)...)
	}
	return c.writeWords(addr, words)
}

func toBoolSlice(value interface{}) ([]bool, error) {
	if arr, ok := value.([]interface{}); ok {
		out := make([]bool, len(arr))
		for i, v := range arr {
			b, err := toBool(v)
			if err != nil {
				return nil, err
			}
			out[i] = b
		}
		return out, nil
	}
	if arr, ok := value.([]bool); ok {
		return arr, nil
	}
	b, err := toBool(value)
	if err != nil {
		return nil, err
	}
	return []bool{b}, nil
}

func toElements(value interface{}) ([]interface{}, error) {
	if arr, ok := value.([]interface{}); ok {
		if len(arr) == 0 {
			return nil, CountMismatchError{Want: 1, Got: 0}
		}
		return arr, nil
	}
	return []interface{}{value}, nil
}
