package fsm

const (
	CommandCreate = "Create"
	CommandUpdate = "Update"
	CommandDelete = "Delete"
)

// Command is a request against an entity. The machine accepts or rejects it
// based on the current state.
type Command interface {
	CommandType() string
}

type (
	Create[T any] struct{ Entity T }
	// Update carries the changes. How they combine with the current entity is
	// decided by the merge function, see [WithMerge].
	Update[T any] struct{ Entity T }
	Delete        struct{}
)

func (Create[T]) CommandType() string { return CommandCreate }
func (Update[T]) CommandType() string { return CommandUpdate }
func (Delete) CommandType() string    { return CommandDelete }

// EventNames are the event types a machine emits.
type EventNames struct {
	Created string
	Updated string
	Deleted string
}

// EventNamesWithPrefix returns "<prefix>Created", "<prefix>Updated" and
// "<prefix>Deleted".
func EventNamesWithPrefix(prefix string) EventNames {
	return EventNames{
		Created: prefix + "Created",
		Updated: prefix + "Updated",
		Deleted: prefix + "Deleted",
	}
}

const (
	ReasonAlreadyExists = "entity already exists"
	ReasonNotFound      = "entity does not exist or has been deleted"
)
