package bson

// Kind tags the type of an encoded value (spec.md §4.7). The numeric
// values are fixed on-disk constants, not Go-side choices.
type Kind byte

const (
	KindDouble   Kind = 0x01
	KindString   Kind = 0x02
	KindBinary   Kind = 0x05
	KindObjectID Kind = 0x07
	KindBoolean  Kind = 0x08
	KindUTCDate  Kind = 0x09
	KindNull     Kind = 0x0A
	KindInt      Kind = 0x16
	KindArray    Kind = 0x17
	KindDocument Kind = 0x13
)

// IDFieldName is the primary-key field. A document's encoded form always
// writes this field first regardless of insertion order (spec.md §4.7).
const IDFieldName = "_id"

// Value is a single typed field value. Exactly one of the typed members
// is meaningful for a given Kind; callers construct Values with the
// New* helpers rather than setting fields directly.
type Value struct {
	Kind     Kind
	Double   float64
	Str      string
	Bin      []byte
	OID      ObjectID
	Bool     bool
	UTCMilli int64
	Int      int64
	Array    []Value
	Doc      *Document
}

func NewDouble(f float64) Value   { return Value{Kind: KindDouble, Double: f} }
func NewString(s string) Value    { return Value{Kind: KindString, Str: s} }
func NewBinary(b []byte) Value    { return Value{Kind: KindBinary, Bin: b} }
func ObjectIDValue(id ObjectID) Value { return Value{Kind: KindObjectID, OID: id} }
func NewBool(b bool) Value        { return Value{Kind: KindBoolean, Bool: b} }
func NewUTCDate(millis int64) Value { return Value{Kind: KindUTCDate, UTCMilli: millis} }
func NewNull() Value              { return Value{Kind: KindNull} }
func NewInt(i int64) Value        { return Value{Kind: KindInt, Int: i} }
func NewArray(v []Value) Value    { return Value{Kind: KindArray, Array: v} }
func NewDocument(d *Document) Value { return Value{Kind: KindDocument, Doc: d} }

// Field is one (key, value) pair of a Document, in the order it was added.
type Field struct {
	Key   string
	Value Value
}

// Document is an ordered sequence of fields. Field order is preserved on
// decode except that "_id", if present, always decodes (and encodes)
// first — spec.md §4.7's round-trip law holds for any document that
// already obeys that ordering.
type Document struct {
	Fields []Field
}

// NewDoc constructs an empty document.
func NewDoc() *Document { return &Document{} }

// Set appends or replaces a field.
func (d *Document) Set(key string, v Value) {
	for i := range d.Fields {
		if d.Fields[i].Key == key {
			d.Fields[i].Value = v
			return
		}
	}
	d.Fields = append(d.Fields, Field{Key: key, Value: v})
}

// Get returns a field's value and whether it was present.
func (d *Document) Get(key string) (Value, bool) {
	for _, f := range d.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// orderedFields returns Fields with "_id" moved to the front, if present,
// leaving the relative order of the remaining fields unchanged.
func (d *Document) orderedFields() []Field {
	out := make([]Field, 0, len(d.Fields))
	var idField *Field
	for i := range d.Fields {
		if d.Fields[i].Key == IDFieldName {
			idField = &d.Fields[i]
			continue
		}
	}
	if idField != nil {
		out = append(out, *idField)
	}
	for i := range d.Fields {
		if d.Fields[i].Key == IDFieldName {
			continue
		}
		out = append(out, d.Fields[i])
	}
	return out
}
