package systimer

import "reflect"

// noID is the sentinel identifying a timer created with New/NewFromISR —
// a callback that takes no arguments. Task timers (NewTask and friends)
// always carry a caller-supplied id >= 0.
const noID = -1

// unlockedIdx is the lockedIdx value meaning "no slot is held".
const unlockedIdx = -1

// slot is one entry in the timer table. A counter of zero means the slot
// is free; any positive value is the remaining milliseconds until expiry.
// Identity for renewal/deletion is the pair (callback, id): exactly one of
// noIDCb/taskCb is non-nil, a tagged variant standing in for the original's
// raw-function-pointer-plus-id-sentinel cast.
type slot struct {
	counter uint16
	noIDCb  Callback
	taskCb  TaskCallback
	id      int
}

func (s slot) free() bool { return s.counter == 0 }

func (s slot) matches(noIDCb Callback, taskCb TaskCallback, id int) bool {
	if s.free() || s.id != id {
		return false
	}
	if noIDCb != nil {
		return s.noIDCb != nil && funcPointer(s.noIDCb) == funcPointer(noIDCb)
	}
	if taskCb != nil {
		return s.taskCb != nil && funcPointer(s.taskCb) == funcPointer(taskCb)
	}
	return false
}

// funcPointer extracts a comparable identity out of a func value. Go func
// values aren't comparable with ==, so this stands in for the original's
// raw function-pointer comparison.
func funcPointer(fn interface{}) uintptr {
	return reflect.ValueOf(fn).Pointer()
}
