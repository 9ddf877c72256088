package sdk

import (
	"strconv"
	"time"
)

// DataType describes how the receiving side should read a pushed value.
type DataType int

const (
	DataTypeUnspecified DataType = iota
	DataTypeInt32
	DataTypeUInt32
	DataTypeInt64
	DataTypeUInt64
	DataTypeString
	DataTypeFloat
	DataTypeCounter32
	DataTypeCounter64
)

var dataTypeNames = map[DataType]string{
	DataTypeUnspecified: "unspecified",
	DataTypeInt32:       "int32",
	DataTypeUInt32:      "uint32",
	DataTypeInt64:       "int64",
	DataTypeUInt64:      "uint64",
	DataTypeString:      "string",
	DataTypeFloat:       "float",
	DataTypeCounter32:   "counter32",
	DataTypeCounter64:   "counter64",
}

// String returns the type name.
func (t DataType) String() string {
	if name, ok := dataTypeNames[t]; ok {
		return name
	}
	return "unknown(" + strconv.Itoa(int(t)) + ")"
}

// PushParameterData pushes a value for a push parameter. The value always
// travels as text with an unspecified type and a zero timestamp, which the
// core replaces with the current time. It reports false when the push was
// rejected or data push is not configured.
func (b *Bridge) PushParameterData(name, value string) bool {
	push := b.table().PushData
	if push == nil {
		return false
	}
	return push(name, value, DataTypeUnspecified, time.Time{})
}

// PushParameterDataInt32 pushes v in base 10.
func (b *Bridge) PushParameterDataInt32(name string, v int32) bool {
	return b.PushParameterData(name, strconv.FormatInt(int64(v), 10))
}

// PushParameterDataUInt32 pushes v in base 10.
func (b *Bridge) PushParameterDataUInt32(name string, v uint32) bool {
	return b.PushParameterData(name, strconv.FormatUint(uint64(v), 10))
}

// PushParameterDataInt64 pushes v in base 10.
func (b *Bridge) PushParameterDataInt64(name string, v int64) bool {
	return b.PushParameterData(name, strconv.FormatInt(v, 10))
}

// PushParameterDataUInt64 pushes v in base 10.
func (b *Bridge) PushParameterDataUInt64(name string, v uint64) bool {
	return b.PushParameterData(name, strconv.FormatUint(v, 10))
}

// PushParameterDataDouble pushes v in fixed notation with six decimals.
func (b *Bridge) PushParameterDataDouble(name string, v float64) bool {
	return b.PushParameterData(name, strconv.FormatFloat(v, 'f', 6, 64))
}
