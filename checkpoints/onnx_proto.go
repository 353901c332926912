package checkpoints

import (
	"encoding/binary"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire-level subset of the ONNX protobuf schema (onnx.proto, IR version 7).
// Field numbers follow the published schema so any ONNX reader accepts the
// output.

// TensorProto data types
const (
	onnxFloat int32 = 1
	onnxInt64 int32 = 7
)

// AttributeProto types
const (
	attrFloat  int32 = 1
	attrInt    int32 = 2
	attrString int32 = 3
	attrFloats int32 = 6
	attrInts   int32 = 7
)

type modelProto struct {
	IRVersion       int64
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *graphProto
	OpsetImport     []opsetID
	MetadataProps   []stringEntry
}

type stringEntry struct {
	Key, Value string
}

type opsetID struct {
	Domain  string
	Version int64
}

type graphProto struct {
	Nodes        []nodeProto
	Name         string
	Initializers []tensorProto
	DocString    string
	Inputs       []valueInfo
	Outputs      []valueInfo
}

type nodeProto struct {
	Inputs     []string
	Outputs    []string
	Name       string
	OpType     string
	Attributes []attributeProto
}

type attributeProto struct {
	Name   string
	Type   int32
	F      float32
	I      int64
	S      []byte
	Floats []float32
	Ints   []int64
}

type tensorProto struct {
	Dims      []int64
	DataType  int32
	FloatData []float32
	Int64Data []int64
	Name      string
	RawData   []byte
}

// valueInfo is a ValueInfoProto restricted to tensor types
type valueInfo struct {
	Name     string
	ElemType int32
	Dims     []dimension
}

type dimension struct {
	Value int64
	Param string
}

// Encoding

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendPackedFloats(b []byte, num protowire.Number, values []float32) []byte {
	if len(values) == 0 {
		return b
	}
	packed := make([]byte, 0, 4*len(values))
	for _, v := range values {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	return appendMessage(b, num, packed)
}

func appendPackedInts(b []byte, num protowire.Number, values []int64) []byte {
	if len(values) == 0 {
		return b
	}
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	return appendMessage(b, num, packed)
}

func (m *modelProto) marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, m.IRVersion)
	b = appendString(b, 2, m.ProducerName)
	b = appendString(b, 3, m.ProducerVersion)
	b = appendString(b, 4, m.Domain)
	b = appendVarint(b, 5, m.ModelVersion)
	b = appendString(b, 6, m.DocString)
	if m.Graph != nil {
		b = appendMessage(b, 7, m.Graph.marshal())
	}
	for _, op := range m.OpsetImport {
		var ob []byte
		ob = appendString(ob, 1, op.Domain)
		ob = appendVarint(ob, 2, op.Version)
		b = appendMessage(b, 8, ob)
	}
	for _, e := range m.MetadataProps {
		var eb []byte
		eb = appendString(eb, 1, e.Key)
		eb = appendString(eb, 2, e.Value)
		b = appendMessage(b, 14, eb)
	}
	return b
}

func (g *graphProto) marshal() []byte {
	var b []byte
	for i := range g.Nodes {
		b = appendMessage(b, 1, g.Nodes[i].marshal())
	}
	b = appendString(b, 2, g.Name)
	for i := range g.Initializers {
		b = appendMessage(b, 5, g.Initializers[i].marshal())
	}
	b = appendString(b, 10, g.DocString)
	for i := range g.Inputs {
		b = appendMessage(b, 11, g.Inputs[i].marshal())
	}
	for i := range g.Outputs {
		b = appendMessage(b, 12, g.Outputs[i].marshal())
	}
	return b
}

func (n *nodeProto) marshal() []byte {
	var b []byte
	for _, in := range n.Inputs {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	for _, out := range n.Outputs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, out)
	}
	b = appendString(b, 3, n.Name)
	b = appendString(b, 4, n.OpType)
	for i := range n.Attributes {
		b = appendMessage(b, 5, n.Attributes[i].marshal())
	}
	return b
}

func (a *attributeProto) marshal() []byte {
	var b []byte
	b = appendString(b, 1, a.Name)
	switch a.Type {
	case attrFloat:
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	case attrInt:
		b = appendVarint(b, 3, a.I)
	case attrString:
		b = appendMessage(b, 4, a.S)
	case attrFloats:
		b = appendPackedFloats(b, 7, a.Floats)
	case attrInts:
		b = appendPackedInts(b, 8, a.Ints)
	}
	b = appendVarint(b, 20, int64(a.Type))
	return b
}

func (t *tensorProto) marshal() []byte {
	var b []byte
	for _, d := range t.Dims {
		b = appendVarint(b, 1, d)
	}
	b = appendVarint(b, 2, int64(t.DataType))
	b = appendPackedFloats(b, 4, t.FloatData)
	b = appendPackedInts(b, 7, t.Int64Data)
	b = appendString(b, 8, t.Name)
	if len(t.RawData) > 0 {
		b = appendMessage(b, 9, t.RawData)
	}
	return b
}

func (v *valueInfo) marshal() []byte {
	var shape []byte
	for _, d := range v.Dims {
		var db []byte
		if d.Param != "" {
			db = appendString(db, 2, d.Param)
		} else {
			db = appendVarint(db, 1, d.Value)
		}
		shape = appendMessage(shape, 1, db)
	}

	var tensorType []byte
	tensorType = appendVarint(tensorType, 1, int64(v.ElemType))
	tensorType = appendMessage(tensorType, 2, shape)

	var typeProto []byte
	typeProto = appendMessage(typeProto, 1, tensorType)

	var b []byte
	b = appendString(b, 1, v.Name)
	b = appendMessage(b, 2, typeProto)
	return b
}

// Decoding

type wireField struct {
	num     protowire.Number
	typ     protowire.Type
	varint  uint64
	fixed32 uint32
	bytes   []byte
}

// parseFields walks every field of a message, skipping unknown wire types
func parseFields(b []byte, fn func(f wireField) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := wireField{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			f.fixed32, n = protowire.ConsumeFixed32(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// floatsField appends a repeated float field in either packed or unpacked form
func floatsField(dst []float32, f wireField) ([]float32, error) {
	switch f.typ {
	case protowire.Fixed32Type:
		return append(dst, math.Float32frombits(f.fixed32)), nil
	case protowire.BytesType:
		if len(f.bytes)%4 != 0 {
			return nil, fmt.Errorf("packed float field %d has %d bytes", f.num, len(f.bytes))
		}
		for b := f.bytes; len(b) > 0; b = b[4:] {
			dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(b)))
		}
		return dst, nil
	}
	return nil, fmt.Errorf("field %d: unexpected wire type %d for floats", f.num, f.typ)
}

// intsField appends a repeated int64 field in either packed or unpacked form
func intsField(dst []int64, f wireField) ([]int64, error) {
	switch f.typ {
	case protowire.VarintType:
		return append(dst, int64(f.varint)), nil
	case protowire.BytesType:
		for b := f.bytes; len(b) > 0; {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			dst = append(dst, int64(v))
			b = b[n:]
		}
		return dst, nil
	}
	return nil, fmt.Errorf("field %d: unexpected wire type %d for ints", f.num, f.typ)
}

func unmarshalModel(b []byte) (*modelProto, error) {
	m := &modelProto{}
	err := parseFields(b, func(f wireField) error {
		switch f.num {
		case 1:
			m.IRVersion = int64(f.varint)
		case 2:
			m.ProducerName = string(f.bytes)
		case 3:
			m.ProducerVersion = string(f.bytes)
		case 4:
			m.Domain = string(f.bytes)
		case 5:
			m.ModelVersion = int64(f.varint)
		case 6:
			m.DocString = string(f.bytes)
		case 7:
			g, err := unmarshalGraph(f.bytes)
			if err != nil {
				return fmt.Errorf("graph: %w", err)
			}
			m.Graph = g
		case 8:
			var op opsetID
			err := parseFields(f.bytes, func(f wireField) error {
				switch f.num {
				case 1:
					op.Domain = string(f.bytes)
				case 2:
					op.Version = int64(f.varint)
				}
				return nil
			})
			if err != nil {
				return err
			}
			m.OpsetImport = append(m.OpsetImport, op)
		case 14:
			var e stringEntry
			err := parseFields(f.bytes, func(f wireField) error {
				switch f.num {
				case 1:
					e.Key = string(f.bytes)
				case 2:
					e.Value = string(f.bytes)
				}
				return nil
			})
			if err != nil {
				return err
			}
			m.MetadataProps = append(m.MetadataProps, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func unmarshalGraph(b []byte) (*graphProto, error) {
	g := &graphProto{}
	err := parseFields(b, func(f wireField) error {
		switch f.num {
		case 1:
			n, err := unmarshalNode(f.bytes)
			if err != nil {
				return err
			}
			g.Nodes = append(g.Nodes, *n)
		case 2:
			g.Name = string(f.bytes)
		case 5:
			t, err := unmarshalTensor(f.bytes)
			if err != nil {
				return fmt.Errorf("initializer: %w", err)
			}
			g.Initializers = append(g.Initializers, *t)
		case 10:
			g.DocString = string(f.bytes)
		case 11, 12:
			v, err := unmarshalValueInfo(f.bytes)
			if err != nil {
				return err
			}
			if f.num == 11 {
				g.Inputs = append(g.Inputs, *v)
			} else {
				g.Outputs = append(g.Outputs, *v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func unmarshalNode(b []byte) (*nodeProto, error) {
	n := &nodeProto{}
	err := parseFields(b, func(f wireField) error {
		switch f.num {
		case 1:
			n.Inputs = append(n.Inputs, string(f.bytes))
		case 2:
			n.Outputs = append(n.Outputs, string(f.bytes))
		case 3:
			n.Name = string(f.bytes)
		case 4:
			n.OpType = string(f.bytes)
		case 5:
			a, err := unmarshalAttribute(f.bytes)
			if err != nil {
				return err
			}
			n.Attributes = append(n.Attributes, *a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

func unmarshalAttribute(b []byte) (*attributeProto, error) {
	a := &attributeProto{}
	err := parseFields(b, func(f wireField) error {
		var err error
		switch f.num {
		case 1:
			a.Name = string(f.bytes)
		case 2:
			a.F = math.Float32frombits(f.fixed32)
		case 3:
			a.I = int64(f.varint)
		case 4:
			a.S = append([]byte(nil), f.bytes...)
		case 7:
			a.Floats, err = floatsField(a.Floats, f)
		case 8:
			a.Ints, err = intsField(a.Ints, f)
		case 20:
			a.Type = int32(f.varint)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func unmarshalTensor(b []byte) (*tensorProto, error) {
	t := &tensorProto{}
	err := parseFields(b, func(f wireField) error {
		var err error
		switch f.num {
		case 1:
			t.Dims, err = intsField(t.Dims, f)
		case 2:
			t.DataType = int32(f.varint)
		case 4:
			t.FloatData, err = floatsField(t.FloatData, f)
		case 7:
			t.Int64Data, err = intsField(t.Int64Data, f)
		case 8:
			t.Name = string(f.bytes)
		case 9:
			t.RawData = append([]byte(nil), f.bytes...)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// floats returns the float payload of a FLOAT tensor from either float_data
// or little-endian raw_data
func (t *tensorProto) floats() ([]float32, error) {
	if t.DataType != onnxFloat {
		return nil, fmt.Errorf("tensor %s has data type %d, expected FLOAT", t.Name, t.DataType)
	}
	if len(t.RawData) == 0 {
		return t.FloatData, nil
	}
	if len(t.RawData)%4 != 0 {
		return nil, fmt.Errorf("tensor %s raw data has %d bytes", t.Name, len(t.RawData))
	}
	data := make([]float32, len(t.RawData)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.RawData[4*i:]))
	}
	return data, nil
}

func unmarshalValueInfo(b []byte) (*valueInfo, error) {
	v := &valueInfo{}
	err := parseFields(b, func(f wireField) error {
		switch f.num {
		case 1:
			v.Name = string(f.bytes)
		case 2:
			// TypeProto.tensor_type
			return parseFields(f.bytes, func(f wireField) error {
				if f.num != 1 {
					return nil
				}
				return parseFields(f.bytes, func(f wireField) error {
					switch f.num {
					case 1:
						v.ElemType = int32(f.varint)
					case 2:
						return parseFields(f.bytes, func(f wireField) error {
							if f.num != 1 {
								return nil
							}
							var d dimension
							err := parseFields(f.bytes, func(f wireField) error {
								switch f.num {
								case 1:
									d.Value = int64(f.varint)
								case 2:
									d.Param = string(f.bytes)
								}
								return nil
							})
							v.Dims = append(v.Dims, d)
							return err
						})
					}
					return nil
				})
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}
