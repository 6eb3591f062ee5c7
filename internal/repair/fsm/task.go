package fsm

// TaskStatus is the state of a delivery task.
type TaskStatus string

const (
	TaskAvailable TaskStatus = "AVAILABLE"
	TaskAssigned  TaskStatus = "ASSIGNED"
	TaskInTransit TaskStatus = "IN_TRANSIT"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskCancelled TaskStatus = "CANCELLED"
)

var taskTransitions = map[TaskStatus]map[TaskStatus]struct{}{
	TaskAvailable: {TaskAssigned: {}, TaskCancelled: {}},
	TaskAssigned:  {TaskInTransit: {}, TaskCancelled: {}},
	TaskInTransit: {TaskCompleted: {}, TaskCancelled: {}},
	TaskCompleted: {},
	TaskCancelled: {},
}

// Valid reports whether s belongs to the task status set.
func (s TaskStatus) Valid() bool {
	_, ok := taskTransitions[s]
	return ok
}

// Open reports whether the task still waits for work.
func (s TaskStatus) Open() bool {
	return s != TaskCompleted && s != TaskCancelled
}

// CanTransitionTask returns whether a task can move from one status to another.
func CanTransitionTask(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	allowed, ok := taskTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}
