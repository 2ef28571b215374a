package flux

import "context"

// StoreBase carries what every store shares: a change emitter and a
// registration on an action dispatcher.
type StoreBase struct {
	Emitter
	dispatcher *Dispatcher[Action]
	token      Token
}

// NewStoreBase registers onDispatch with d. A nil d means Default.
func NewStoreBase(d *Dispatcher[Action], onDispatch func(context.Context, Action)) *StoreBase {
	if d == nil {
		d = Default
	}
	s := &StoreBase{dispatcher: d}
	s.token = d.Register(onDispatch)
	return s
}

// Dispatcher returns the dispatcher the store is registered with.
func (s *StoreBase) Dispatcher() *Dispatcher[Action] {
	return s.dispatcher
}

// Unregister detaches the store from its dispatcher.
func (s *StoreBase) Unregister() {
	s.dispatcher.Unregister(s.token)
}
