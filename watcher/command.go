package watcher

// FieldKind types a policy's configurable field.
type FieldKind int

const (
	FieldBool FieldKind = iota
	FieldInt
	FieldFloat
	FieldString
)

// Field is static metadata describing one configurable parameter of a
// policy. Hosts use it to build input surfaces; values arrive bound in
// Params on Buy/SellShort.
type Field struct {
	Name        string
	Kind        FieldKind
	Default     any
	Label       string
	Description string
}

// Params carries bound field values, keyed by Field.Name.
type Params map[string]any

// Command is a tagged request enqueued by external callers. Commands are
// opaque until the controller goroutine dequeues them; insertion order is
// preserved.
type Command interface {
	Name() string
	isCommand()
}

// BuyCommand opens a long position. Future is the data-feed symbol,
// FutureBroker the broker's symbology for the same instrument.
type BuyCommand struct {
	Future       string
	FutureBroker string
	Contracts    int
	Params       Params
}

// SellShortCommand opens a short position.
type SellShortCommand struct {
	Future       string
	FutureBroker string
	Contracts    int
	Params       Params
}

// GoFlatCommand exits the current position at market.
type GoFlatCommand struct{}

// GoHalfFlatCommand exits half of the current position at market.
type GoHalfFlatCommand struct{}

// ReverseCommand flips the position long<->short in a single double-sized
// order.
type ReverseCommand struct{}

// PanicCommand cancels every outstanding order for the instrument.
type PanicCommand struct{}

// PingCommand asks the controller to re-announce its current state. It never
// changes state or the ledger.
type PingCommand struct{}

// ShutdownCommand terminates the controller goroutine. It is observed
// between handler invocations only; in-flight broker calls are not aborted.
type ShutdownCommand struct{}

func (BuyCommand) Name() string        { return "Buy" }
func (SellShortCommand) Name() string  { return "SellShort" }
func (GoFlatCommand) Name() string     { return "GoFlat" }
func (GoHalfFlatCommand) Name() string { return "GoHalfFlat" }
func (ReverseCommand) Name() string    { return "Reverse" }
func (PanicCommand) Name() string      { return "Panic" }
func (PingCommand) Name() string       { return "Ping" }
func (ShutdownCommand) Name() string   { return "Shutdown" }

func (BuyCommand) isCommand()        {}
func (SellShortCommand) isCommand()  {}
func (GoFlatCommand) isCommand()     {}
func (GoHalfFlatCommand) isCommand() {}
func (ReverseCommand) isCommand()    {}
func (PanicCommand) isCommand()      {}
func (PingCommand) isCommand()       {}
func (ShutdownCommand) isCommand()   {}
