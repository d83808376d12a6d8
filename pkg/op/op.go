package op

// ObjType identifies the kind of composite object a Make op creates.
type ObjType uint8

const (
	ObjMap ObjType = iota
	ObjList
	ObjText
	ObjTable
)

func (t ObjType) String() string {
	switch t {
	case ObjMap:
		return "map"
	case ObjList:
		return "list"
	case ObjText:
		return "text"
	case ObjTable:
		return "table"
	default:
		return "unknown"
	}
}

// ActionKind discriminates the variants of OpType.
type ActionKind uint8

const (
	ActionMake ActionKind = iota
	ActionPut
	ActionDelete
	ActionIncrement
	ActionMarkBegin
	ActionMarkEnd
)

// MarkData describes a rich-text annotation span's name and value.
// Per spec.md §4.1.5, a Null value semantically erases lower-priority
// marks sharing its Name.
type MarkData struct {
	Name  string
	Value ScalarValue
}

// OpType is the tagged union of actions an Op may perform.
type OpType struct {
	Action ActionKind

	MakeType ObjType     // valid when Action == ActionMake
	Value    ScalarValue // valid when Action == ActionPut
	IncBy    int64       // valid when Action == ActionIncrement
	Mark     MarkData    // valid when Action == ActionMarkBegin
	MarkEnd  bool        // valid when Action == ActionMarkEnd (span-closing flag)
}

func MakeMap() OpType  { return OpType{Action: ActionMake, MakeType: ObjMap} }
func MakeList() OpType { return OpType{Action: ActionMake, MakeType: ObjList} }
func MakeText() OpType { return OpType{Action: ActionMake, MakeType: ObjText} }
func MakeTable() OpType { return OpType{Action: ActionMake, MakeType: ObjTable} }

func Put(v ScalarValue) OpType { return OpType{Action: ActionPut, Value: v} }
func Delete() OpType           { return OpType{Action: ActionDelete} }
func Increment(n int64) OpType { return OpType{Action: ActionIncrement, IncBy: n} }

func MarkBegin(name string, v ScalarValue) OpType {
	return OpType{Action: ActionMarkBegin, Mark: MarkData{Name: name, Value: v}}
}
func MarkEnd(flag bool) OpType { return OpType{Action: ActionMarkEnd, MarkEnd: flag} }

func (t OpType) IsMake() bool      { return t.Action == ActionMake }
func (t OpType) IsPut() bool       { return t.Action == ActionPut }
func (t OpType) IsDelete() bool    { return t.Action == ActionDelete }
func (t OpType) IsIncrement() bool { return t.Action == ActionIncrement }
func (t OpType) IsMarkBegin() bool { return t.Action == ActionMarkBegin }
func (t OpType) IsMarkEnd() bool   { return t.Action == ActionMarkEnd }

// Op is the single CRDT primitive: create, assign, delete, increment,
// or bracket a mark, at (Obj, Key), superseding every op named in Pred.
type Op struct {
	ID     OpId
	Obj    ObjId
	Key    Key
	Action OpType
	Pred   []OpId // sorted ascending
	Insert bool
}

// Elem returns the ElemId this op would be addressed by if it creates a
// new sequence element (Insert == true): its own id.
func (o Op) Elem() ElemId { return ElemId{o.ID} }

// SortPred sorts an op's Pred slice in place, ascending — spec.md §3.2
// requires pred to be sorted by OpId.
func SortPred(pred []OpId) {
	SortOpIds(pred)
}
