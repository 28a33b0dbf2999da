package mc

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Data type codes for MELSEC values. These are internal codes used by
// the tag layer; the wire itself only knows bits and words.
const (
	TypeVoid   uint16 = 0x00
	TypeBool   uint16 = 0x01 // BOOL (1 bit, or word tested nonzero)
	TypeByte   uint16 = 0x02 // BYTE/USINT (1 byte)
	TypeWord   uint16 = 0x03 // WORD/UINT (2 bytes unsigned)
	TypeInt16  uint16 = 0x04 // INT (2 bytes signed)
	TypeDWord  uint16 = 0x05 // DWORD/UDINT (4 bytes unsigned)
	TypeInt32  uint16 = 0x06 // DINT (4 bytes signed)
	TypeLWord  uint16 = 0x07 // LWORD/ULINT (8 bytes unsigned)
	TypeInt64  uint16 = 0x08 // LINT (8 bytes signed)
	TypeReal   uint16 = 0x09 // REAL (4 bytes float)
	TypeLReal  uint16 = 0x0A // LREAL (8 bytes double)
	TypeString uint16 = 0x0B // STRING (2 chars per word)

	TypeUnknown uint16 = 0xFFFF

	// Array flag - high bit indicates array type
	TypeArrayFlag uint16 = 0x8000
)

// IsArray returns true if the type code represents an array.
func IsArray(typeCode uint16) bool {
	return (typeCode & TypeArrayFlag) != 0
}

// MakeArrayType returns the array version of a base type.
func MakeArrayType(baseType uint16) uint16 {
	return baseType | TypeArrayFlag
}

// BaseType returns the base type code with array flag removed.
func BaseType(typeCode uint16) uint16 {
	return typeCode &^ TypeArrayFlag
}

// TypeName returns the human-readable name for a data type.
func TypeName(typeCode uint16) string {
	baseType := BaseType(typeCode)
	isArr := IsArray(typeCode)

	var name string
	switch baseType {
	case TypeVoid:
		name = "VOID"
	case TypeBool:
		name = "BOOL"
	case TypeByte:
		name = "BYTE"
	case TypeWord:
		name = "WORD"
	case TypeInt16:
		name = "INT"
	case TypeDWord:
		name = "DWORD"
	case TypeInt32:
		name = "DINT"
	case TypeLWord:
		name = "LWORD"
	case TypeInt64:
		name = "LINT"
	case TypeReal:
		name = "REAL"
	case TypeLReal:
		name = "LREAL"
	case TypeString:
		name = "STRING"
	default:
		name = fmt.Sprintf("TYPE_%04X", baseType)
	}

	if isArr {
		return name + "[]"
	}
	return name
}

// TypeCodeFromName returns the type code for a type name.
// Returns TypeUnknown if not recognized.
func TypeCodeFromName(name string) (uint16, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "VOID":
		return TypeVoid, true
	case "BOOL", "BIT":
		return TypeBool, true
	case "BYTE", "USINT", "UINT8":
		return TypeByte, true
	case "WORD", "UINT", "UINT16":
		return TypeWord, true
	case "INT", "INT16":
		return TypeInt16, true
	case "DWORD", "UDINT", "UINT32":
		return TypeDWord, true
	case "DINT", "INT32":
		return TypeInt32, true
	case "LWORD", "ULINT", "UINT64":
		return TypeLWord, true
	case "LINT", "INT64":
		return TypeInt64, true
	case "REAL", "FLOAT", "FLOAT32":
		return TypeReal, true
	case "LREAL", "DOUBLE", "FLOAT64":
		return TypeLReal, true
	case "STRING":
		return TypeString, true
	default:
		return TypeUnknown, false
	}
}

// TypeSize returns the byte size for a primitive type code.
// Returns 0 for variable-length or unknown types.
func TypeSize(typeCode uint16) int {
	switch BaseType(typeCode) {
	case TypeBool:
		return 2 // transported as a word when read from a word device
	case TypeByte:
		return 1
	case TypeWord, TypeInt16:
		return 2
	case TypeDWord, TypeInt32, TypeReal:
		return 4
	case TypeLWord, TypeInt64, TypeLReal:
		return 8
	default:
		return 0 // Variable or unknown
	}
}

// WordsFor returns the number of 16-bit device points needed to carry
// count elements of the given type from a word device.
func WordsFor(typeCode uint16, count int) int {
	if count < 1 {
		count = 1
	}
	switch BaseType(typeCode) {
	case TypeByte:
		return (count + 1) / 2
	case TypeDWord, TypeInt32, TypeReal:
		return count * 2
	case TypeLWord, TypeInt64, TypeLReal:
		return count * 4
	case TypeString:
		return count // count is a word length for strings
	default:
		return count
	}
}

// DecodeValue decodes raw little-endian bytes into a Go value based on
// the type code. Multi-word values are low-word-first as stored by the
// PLC.
func DecodeValue(typeCode uint16, data []byte) interface{} {
	switch BaseType(typeCode) {
	case TypeBool:
		for _, b := range data {
			if b != 0 {
				return true
			}
		}
		return false

	case TypeByte:
		if len(data) < 1 {
			return uint8(0)
		}
		return data[0]

	case TypeWord:
		if len(data) < 2 {
			return uint16(0)
		}
		return binary.LittleEndian.Uint16(data)

	case TypeInt16:
		if len(data) < 2 {
			return int16(0)
		}
		return int16(binary.LittleEndian.Uint16(data))

	case TypeDWord:
		if len(data) < 4 {
			return uint32(0)
		}
		return binary.LittleEndian.Uint32(data)

	case TypeInt32:
		if len(data) < 4 {
			return int32(0)
		}
		return int32(binary.LittleEndian.Uint32(data))

	case TypeLWord:
		if len(data) < 8 {
			return uint64(0)
		}
		return binary.LittleEndian.Uint64(data)

	case TypeInt64:
		if len(data) < 8 {
			return int64(0)
		}
		return int64(binary.LittleEndian.Uint64(data))

	case TypeReal:
		if len(data) < 4 {
			return float32(0)
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(data))

	case TypeLReal:
		if len(data) < 8 {
			return float64(0)
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(data))

	case TypeString:
		return RecoverString(data)

	default:
		return data
	}
}

// EncodeValue encodes a Go value into little-endian bytes for writing.
// Accepts native Go types plus the widened types produced by JSON
// decoding (float64, int).
func EncodeValue(value interface{}, typeCode uint16) ([]byte, error) {
	switch BaseType(typeCode) {
	case TypeBool:
		var v uint16
		b, err := toBool(value)
		if err != nil {
			return nil, err
		}
		if b {
			v = 1
		}
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, v)
		return buf, nil

	case TypeByte:
		n, err := toUint64(value)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %T to BYTE", value)
		}
		// A lone byte still occupies a full word on the wire.
		return []byte{byte(n), 0}, nil

	case TypeWord, TypeInt16:
		n, err := toInt64(value)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %T to %s", value, TypeName(typeCode))
		}
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(n))
		return buf, nil

	case TypeDWord, TypeInt32:
		n, err := toInt64(value)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %T to %s", value, TypeName(typeCode))
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(n))
		return buf, nil

	case TypeLWord, TypeInt64:
		n, err := toInt64(value)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %T to %s", value, TypeName(typeCode))
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(n))
		return buf, nil

	case TypeReal:
		f, err := toFloat64(value)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %T to REAL", value)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(f)))
		return buf, nil

	case TypeLReal:
		f, err := toFloat64(value)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %T to LREAL", value)
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
		return buf, nil

	case TypeString:
		var b []byte
		switch v := value.(type) {
		case string:
			b = []byte(v)
		case []byte:
			b = v
		default:
			return nil, fmt.Errorf("cannot convert %T to STRING", value)
		}
		b = append(b, 0)
		if len(b)%2 != 0 {
			b = append(b, 0)
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unsupported type code: %s", TypeName(typeCode))
	}
}

func toBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		return s == "1" || s == "true" || s == "on", nil
	default:
		return false, fmt.Errorf("cannot convert %T to BOOL", value)
	}
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("not numeric: %T", value)
	}
}

func toUint64(value interface{}) (uint64, error) {
	n, err := toInt64(value)
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		n, err := toInt64(value)
		if err != nil {
			return 0, err
		}
		return float64(n), nil
	}
}
