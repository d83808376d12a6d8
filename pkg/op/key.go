package op

// KeyKind discriminates a Key's two shapes.
type KeyKind uint8

const (
	// KeyMap indexes into the document's interned property cache.
	KeyMap KeyKind = iota
	// KeySeq names the list/text element an op inserts after or mutates.
	KeySeq
)

// Key is either a map property index or a sequence ElemId. SeqKey(Head)
// means "insert at the beginning of the sequence".
type Key struct {
	Kind  KeyKind
	Prop  int
	Elem  ElemId
}

// MapKey builds a map-keyed Key from a property cache index.
func MapKey(prop int) Key { return Key{Kind: KeyMap, Prop: prop} }

// SeqKey builds a sequence-keyed Key from an ElemId.
func SeqKey(e ElemId) Key { return Key{Kind: KeySeq, Elem: e} }

func (k Key) IsMap() bool { return k.Kind == KeyMap }
func (k Key) IsSeq() bool { return k.Kind == KeySeq }

func (k Key) Equal(o Key) bool {
	if k.Kind != o.Kind {
		return false
	}
	if k.Kind == KeyMap {
		return k.Prop == o.Prop
	}
	return k.Elem.OpId == o.Elem.OpId
}
